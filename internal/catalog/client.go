// Package catalog is the client of the content catalog service.
// It tells how much public content a creator has and who owns a video or a stream.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

const (
	Name = "catalog"

	defaultTimeout = 3 * time.Second
)

var ErrContentNotFound = errors.New("content not found in catalog")

type Config struct {
	BaseURL string

	Transport apiclient.Config
}

type Client struct {
	api    *apiclient.Client
	logger logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	transport := cfg.Transport
	transport.Name = Name
	transport.BaseURL = cfg.BaseURL
	if transport.Timeout <= 0 {
		transport.Timeout = defaultTimeout
	}

	return &Client{
		api:    apiclient.New(transport, l),
		logger: l.With("client", Name),
	}
}

type contentCount struct {
	Videos  int `json:"public_videos"`
	Streams int `json:"public_streams"`
}

// Number of publicly visible videos and streams of the creator
func (c *Client) PublicContentCount(ctx context.Context, creatorExternalID string) (int, error) {
	var count contentCount
	err := c.get(ctx, "/api/creators/"+url.PathEscape(creatorExternalID)+"/content/count", &count)
	if err != nil {
		return 0, err
	}

	c.logger.Debug("Catalog content count", "creator", creatorExternalID, "videos", count.Videos, "streams", count.Streams)
	return count.Videos + count.Streams, nil
}

type owner struct {
	OwnerID string `json:"owner_id"`
}

// External id of the owner of the video
func (c *Client) VideoOwner(ctx context.Context, videoID string) (string, error) {
	var o owner
	err := c.get(ctx, "/api/videos/"+url.PathEscape(videoID), &o)
	return o.OwnerID, err
}

// External id of the owner of the stream
func (c *Client) StreamOwner(ctx context.Context, streamID string) (string, error) {
	var o owner
	err := c.get(ctx, "/api/streams/"+url.PathEscape(streamID), &o)
	return o.OwnerID, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: path}, out)

	var apiErr *apiclient.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return ErrContentNotFound
	default:
		c.logger.Warn("Catalog request failed", "path", path, "error", err)
		return fmt.Errorf("catalog error: %w", err)
	}
}
