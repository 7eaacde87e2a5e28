package gmailapi

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
	gmailv1 "google.golang.org/api/gmail/v1"
)

const userID = "me"

// summaryFields is the lightweight projection used to cheaply detect
// "nothing changed": the thread's history id plus each message's id, labels
// and timestamp.
const summaryFields googleapi.Field = "historyId,messages(id,labelIds,internalDate)"

// Client wraps the gmail.Service with the thread-level calls the sync engine
// needs.
type Client struct {
	Service *gmailv1.Service
}

// NewClient creates a new Gmail client
func NewClient(service *gmailv1.Service) *Client {
	return &Client{Service: service}
}

// GetThread retrieves a full thread, messages included.
func (c *Client) GetThread(ctx context.Context, threadID string) (*gmailv1.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("threadID cannot be empty")
	}
	thread, err := c.Service.Users.Threads.Get(userID, threadID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

// GetThreadSummary retrieves only the history id and per-message
// label/timestamp deltas for a thread.
func (c *Client) GetThreadSummary(ctx context.Context, threadID string) (*gmailv1.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("threadID cannot be empty")
	}
	thread, err := c.Service.Users.Threads.Get(userID, threadID).
		Format("minimal").
		Fields(summaryFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get thread summary: %w", err)
	}
	return thread, nil
}

// GetMessage retrieves a single full message by id.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmailv1.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID cannot be empty")
	}
	msg, err := c.Service.Users.Messages.Get(userID, messageID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ThreadPage is one page of a thread listing.
type ThreadPage struct {
	Threads       []*gmailv1.Thread
	NextPageToken string
}

// ListThreads returns a page of thread refs matching the query string.
func (c *Client) ListThreads(ctx context.Context, query, pageToken string, maxResults int64) (*ThreadPage, error) {
	call := c.Service.Users.Threads.List(userID).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return &ThreadPage{Threads: res.Threads, NextPageToken: res.NextPageToken}, nil
}

// MessageTime converts a message's internal date to a time.Time.
func MessageTime(msg *gmailv1.Message) time.Time {
	return time.UnixMilli(msg.InternalDate)
}
