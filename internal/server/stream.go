package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	productdomain "github.com/smallbiznis/balancebook/internal/product/domain"
	"go.uber.org/zap"
)

const streamHeartbeat = 15 * time.Second

type collectionSnapshot struct {
	Collection changefeed.Collection `json:"collection"`
	Event      *changefeed.Event     `json:"event,omitempty"`
	Items      any                   `json:"items"`
}

// StreamCollection sends the full collection as a server-sent event on
// connect and again after every change to it.
func (s *Server) StreamCollection(c *gin.Context) {
	collection, err := changefeed.ParseCollection(c.Param("collection"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscription, err := s.hub.Subscribe(collection)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	ctx := c.Request.Context()
	initial, err := s.collectionItems(ctx, collection)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	if err := writeSnapshot(writer, collectionSnapshot{Collection: collection, Items: initial}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-subscription.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			items, err := s.collectionItems(ctx, collection)
			if err != nil {
				s.log.Warn("stream reload failed", zap.String("collection", string(collection)), zap.Error(err))
				continue
			}
			if err := writeSnapshot(writer, collectionSnapshot{Collection: collection, Event: &event, Items: items}); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) collectionItems(ctx context.Context, collection changefeed.Collection) (any, error) {
	if collection == changefeed.Products {
		return s.productSvc.List(ctx, productdomain.ListRequest{})
	}
	snap, err := s.querySvc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	switch collection {
	case changefeed.Customers:
		return snap.Customers, nil
	case changefeed.Orders:
		return snap.AllOrders(), nil
	default:
		return snap.Payments, nil
	}
}

func writeSnapshot(w io.Writer, snapshot collectionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", snapshot.Collection, data)
	return err
}
