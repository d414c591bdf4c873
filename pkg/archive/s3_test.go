package archive_test

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/archive"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func deliveries(n int) []*webhook.Delivery {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]*webhook.Delivery, n)
	for i := range out {
		out[i] = webhook.NewDelivery("https://example.com/hook", "order.created", json.RawMessage(`{"n":1}`), 3, now)
	}
	return out
}

func readLines(t *testing.T, r io.Reader) []webhook.Delivery {
	t.Helper()
	var out []webhook.Delivery
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var d webhook.Delivery
		require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
		out = append(out, d)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewS3Archiver_Validation(t *testing.T) {
	t.Parallel()

	_, err := archive.NewS3Archiver(context.Background(), archive.Config{})
	require.ErrorIs(t, err, archive.ErrInvalidConfig)

	_, err = archive.NewS3Archiver(context.Background(), archive.Config{Bucket: "b"})
	require.ErrorIs(t, err, archive.ErrInvalidConfig)

	a, err := archive.NewS3Archiver(context.Background(), archive.Config{Bucket: "b"}, archive.WithS3Client(&mockS3Client{}))
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestS3Archiver_Archive(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("compressed batch", func(t *testing.T) {
		t.Parallel()
		client := &mockS3Client{}
		var captured *s3.PutObjectInput
		client.On("PutObject", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { captured = args.Get(1).(*s3.PutObjectInput) }).
			Return(&s3.PutObjectOutput{}, nil)

		a, err := archive.NewS3Archiver(context.Background(),
			archive.Config{Bucket: "archive", Prefix: "/hooks/", Compress: true},
			archive.WithS3Client(client), archive.WithClock(func() time.Time { return at }))
		require.NoError(t, err)

		batch := deliveries(3)
		require.NoError(t, a.Archive(context.Background(), batch))
		require.NotNil(t, captured)

		assert.Equal(t, "archive", aws.ToString(captured.Bucket))
		assert.Regexp(t, `^hooks/2026/03/01/20260301T120000Z-[0-9a-f-]{36}\.jsonl\.gz$`, aws.ToString(captured.Key))
		assert.Equal(t, "gzip", aws.ToString(captured.ContentEncoding))
		assert.Equal(t, "application/x-ndjson", aws.ToString(captured.ContentType))

		gz, err := gzip.NewReader(captured.Body)
		require.NoError(t, err)
		lines := readLines(t, gz)
		require.Len(t, lines, 3)
		assert.Equal(t, batch[0].ID, lines[0].ID)
		assert.Equal(t, "order.created", lines[2].Event)
	})

	t.Run("empty batch skips upload", func(t *testing.T) {
		t.Parallel()
		client := &mockS3Client{}
		a, err := archive.NewS3Archiver(context.Background(), archive.Config{Bucket: "archive"}, archive.WithS3Client(client))
		require.NoError(t, err)
		require.NoError(t, a.Archive(context.Background(), nil))
		client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
	})

	t.Run("classified errors", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			err  error
			want error
		}{
			{&smithy.GenericAPIError{Code: "AccessDenied"}, archive.ErrAccessDenied},
			{&smithy.GenericAPIError{Code: "NoSuchBucket"}, archive.ErrBucketNotFound},
			{&smithy.GenericAPIError{Code: "SlowDown"}, archive.ErrServiceUnavailable},
			{context.DeadlineExceeded, archive.ErrOperationTimeout},
		}
		for _, tc := range cases {
			client := &mockS3Client{}
			client.On("PutObject", mock.Anything, mock.Anything).Return(nil, tc.err)
			a, err := archive.NewS3Archiver(context.Background(), archive.Config{Bucket: "archive"}, archive.WithS3Client(client))
			require.NoError(t, err)
			err = a.Archive(context.Background(), deliveries(1))
			require.ErrorIs(t, err, tc.want)
		}
	})
}

func TestS3Archiver_WithCleaner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	store := webhook.NewMemoryStore()
	old := webhook.NewDelivery("https://example.com/hook", "order.created", json.RawMessage(`{}`), 3, now.Add(-60*24*time.Hour))
	old.MarkSuccess(now.Add(-60 * 24 * time.Hour))
	require.NoError(t, store.CreateDelivery(ctx, old))

	client := &mockS3Client{}
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	a, err := archive.NewS3Archiver(ctx, archive.Config{Bucket: "archive"}, archive.WithS3Client(client))
	require.NoError(t, err)

	cleaner := webhook.NewCleaner(store, webhook.WithArchiver(a), webhook.WithRetention(24*time.Hour))
	_, err = cleaner.Run(ctx)
	require.Error(t, err)

	_, err = store.GetDelivery(ctx, old.ID)
	require.NoError(t, err, "delivery kept when archiving fails")
}

func TestEncode_Plain(t *testing.T) {
	t.Parallel()
	body, err := archive.Encode(deliveries(2), false)
	require.NoError(t, err)
	assert.Len(t, readLines(t, bytes.NewReader(body)), 2)
}
