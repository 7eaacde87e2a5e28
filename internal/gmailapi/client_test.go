package gmailapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gmailv1 "google.golang.org/api/gmail/v1"
)

func TestGetThreadRequiresID(t *testing.T) {
	c := NewClient(&gmailv1.Service{})

	_, err := c.GetThread(context.Background(), "")
	assert.Error(t, err)
	_, err = c.GetThreadSummary(context.Background(), "")
	assert.Error(t, err)
	_, err = c.GetMessage(context.Background(), "")
	assert.Error(t, err)
}

func TestMessageTime(t *testing.T) {
	msg := &gmailv1.Message{InternalDate: 1700000000000}
	assert.Equal(t, time.UnixMilli(1700000000000), MessageTime(msg))
}
