// Package faceclient talks to the facial-recognition service over gRPC.
//
// The service exposes facerecognition.FaceEnrollment with two unary methods
// that exchange google.protobuf.Struct messages:
//
//	AddFace({identifier, image})  -> {handle}
//	RemoveFace({handle})          -> google.protobuf.Empty
//
// image is the base64 encoded photo.
package faceclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-signup/internal/enrollment"
	"github.com/example/face-signup/internal/logging"
)

const (
	ServiceName      = "facerecognition.FaceEnrollment"
	AddFaceMethod    = "/" + ServiceName + "/AddFace"
	RemoveFaceMethod = "/" + ServiceName + "/RemoveFace"
)

// Client implements enrollment.FaceEnrollmentService.
type Client struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// Dial returns a ready-to-use client for the face service.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("faceclient.dial", "", err)
		logger.Error("failed to dial face service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return New(conn, logger), conn, nil
}

// New wraps an existing connection.
func New(conn grpc.ClientConnInterface, logger *zap.Logger) *Client {
	return &Client{conn: conn, logger: logger.Named("faceclient")}
}

// Enroll registers the photo under identifier and returns the enrollment handle.
// Rejections carry the service's status message in *enrollment.EnrollmentError.
func (c *Client) Enroll(ctx context.Context, identifier string, image io.Reader) (string, error) {
	data, err := io.ReadAll(image)
	if err != nil {
		return "", fmt.Errorf("read photo: %w", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"identifier": identifier,
		"image":      base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", fmt.Errorf("build add face request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, AddFaceMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("faceclient.add_face", "", err)
		c.logger.Error("add face call failed", zap.Error(wrapped), zap.String("identifier", identifier))
		return "", &enrollment.EnrollmentError{Message: status.Convert(err).Message(), Err: wrapped}
	}

	handle := resp.GetFields()["handle"].GetStringValue()
	if handle == "" {
		return "", enrollment.ErrEmptyHandle
	}
	return handle, nil
}

// Remove deletes a registration previously returned by Enroll.
func (c *Client) Remove(ctx context.Context, handle string) error {
	req, err := structpb.NewStruct(map[string]interface{}{"handle": handle})
	if err != nil {
		return fmt.Errorf("build remove face request: %w", err)
	}

	if err := c.conn.Invoke(ctx, RemoveFaceMethod, req, &emptypb.Empty{}); err != nil {
		wrapped := logging.NewOperationError("faceclient.remove_face", "", err)
		c.logger.Error("remove face call failed", zap.Error(wrapped), zap.String("handle", handle))
		return wrapped
	}
	return nil
}
