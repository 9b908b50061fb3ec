package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

func TestPublishScanPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	const topic = "projects/proj/topics/scans"
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
	require.NoError(t, err)

	pub := New(client.Publisher(topic))
	defer pub.Stop()

	payload := scan.Payload{ScanID: "scan-1", Task: scan.TaskLinks, Success: true}
	id, err := pub.Publish(ctx, topic, payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]string{"scan_id": "scan-1", "task": "links", "success": "true"}, msgs[0].Attributes)
	var got scan.Payload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "scan-1", got.ScanID)
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", scan.Payload{})
	require.Error(t, err)
	require.Nil(t, attributes("not a payload"))
}
