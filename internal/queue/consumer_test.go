package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedeliveryDelay(t *testing.T) {
	testCases := []struct {
		numDelivered uint64
		expected     time.Duration
	}{
		{numDelivered: 0, expected: 2 * time.Second},
		{numDelivered: 1, expected: 2 * time.Second},
		{numDelivered: 2, expected: 4 * time.Second},
		{numDelivered: 3, expected: 8 * time.Second},
		{numDelivered: 5, expected: 32 * time.Second},
		{numDelivered: 7, expected: 2 * time.Minute},
		{numDelivered: 50, expected: 2 * time.Minute},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, redeliveryDelay(tc.numDelivered), "numDelivered=%d", tc.numDelivered)
	}
}
