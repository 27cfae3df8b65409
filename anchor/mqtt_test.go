package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/headanchor/internal/log"
)

func TestNewMQTTClient(t *testing.T) {
	c, err := NewMQTTClient(testConfig(), nil, log.Discard())
	require.NoError(t, err)
	assert.Nil(t, c, "no broker disables MQTT")

	cfg := testConfig()
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.Subjects = nil
	_, err = NewMQTTClient(cfg, nil, log.Discard())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MQTT.Broker = "tcp://localhost:1883"
	c, err = NewMQTTClient(cfg, nil, log.Discard())
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotNil(t, c.Client())
	assert.False(t, c.IsConnected())
}

type received struct {
	mu   sync.Mutex
	subj []string
	dets []*Detection
	errs []error
}

func (r *received) handle(subjectID string, det *Detection, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subj = append(r.subj, subjectID)
	r.dets = append(r.dets, det)
	r.errs = append(r.errs, err)
}

func TestMQTTClient_SubscribeAndDeliver(t *testing.T) {
	cfg := testConfig()
	cfg.Subjects = append(cfg.Subjects, SubjectConfig{ID: "guest", Topic: "landmarks/guest"}, SubjectConfig{ID: "silent"})

	mock := NewMockClient()
	var got received
	c := WrapMQTTClient(mock, cfg, got.handle, log.Discard())

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	c.Subscribe(mock)
	assert.True(t, mock.Subscribed("landmarks/head"))
	assert.True(t, mock.Subscribed("landmarks/guest"))

	payload, err := EncodeDetection(defaultFace().detection(t, 5), true)
	require.NoError(t, err)
	assert.True(t, mock.Deliver("landmarks/guest", payload))
	assert.True(t, mock.Deliver("landmarks/head", []byte("garbage")))
	assert.False(t, mock.Deliver("landmarks/other", payload))

	require.Len(t, got.subj, 2)
	assert.Equal(t, "guest", got.subj[0])
	require.NoError(t, got.errs[0])
	assert.Equal(t, int64(5), got.dets[0].Seq)
	assert.Equal(t, "head", got.subj[1])
	assert.Error(t, got.errs[1])
	assert.Nil(t, got.dets[1])

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.False(t, mock.IsConnected())
}

func TestMQTTClient_OnConnectResubscribes(t *testing.T) {
	mock := NewMockClient()
	c := WrapMQTTClient(mock, testConfig(), nil, log.Discard())
	mock.SetOnConnect(c.onConnect)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, mock.Subscribed("landmarks/head"))

	// a delivery with no handler registered is ignored
	assert.True(t, mock.Deliver("landmarks/head", []byte(`{"seq":1}`)))
}

func TestMQTTClient_SubscribeFailureIsLogged(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetSubscribeError(errors.New("not authorized"))
	c := WrapMQTTClient(mock, testConfig(), nil, log.Discard())

	c.Subscribe(mock)
	assert.False(t, mock.Subscribed("landmarks/head"))
}

func TestMQTTClient_ConnectHonoursContext(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnectError(errors.New("connection refused"))
	c := WrapMQTTClient(mock, testConfig(), nil, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.IsConnected())
}

func TestPublisher_Publish(t *testing.T) {
	mock := NewMockClient()
	p := NewPublisher(mock, "studio", log.Discard())

	out := Output{SubjectID: "head", State: StateStable, Pose: PoseEstimate{Frame: 3, Rotation: IdentityQuat()}}
	assert.Error(t, p.Publish(out), "disconnected client")
	assert.Error(t, NewPublisher(nil, "", nil).Publish(out))

	mock.SetConnected(true)
	require.NoError(t, p.Publish(out))
	require.NoError(t, p.Publish(Output{SubjectID: "alpha", State: StateLost}))

	msgs := mock.Published("studio/head")
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(0), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)

	var decoded Output
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &decoded))
	assert.Equal(t, "head", decoded.SubjectID)
	assert.Equal(t, StateStable, decoded.State)
	assert.Equal(t, 3, decoded.Pose.Frame)

	combined := mock.Published("studio/poses")
	require.Len(t, combined, 2)
	var last combinedPoses
	require.NoError(t, json.Unmarshal(combined[1].Payload, &last))
	require.Len(t, last.Subjects, 2)
	assert.Equal(t, "alpha", last.Subjects[0].SubjectID)
	assert.Equal(t, "head", last.Subjects[1].SubjectID)

	p.Clear("alpha")
	require.NoError(t, p.Publish(out))
	combined = mock.Published("studio/poses")
	require.Len(t, combined, 3)
	require.NoError(t, json.Unmarshal(combined[2].Payload, &last))
	require.Len(t, last.Subjects, 1, "cleared subjects leave the combined topic")
	assert.Equal(t, "head", last.Subjects[0].SubjectID)
}

func TestPublisher_Options(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, "", log.Discard())
	assert.Equal(t, "headanchor/head", p.SubjectTopic("head"))
	assert.Equal(t, "headanchor/poses", p.CombinedTopic())

	p.SetQoS(1)
	p.SetQoS(7)
	p.SetRetain(true)
	require.NoError(t, p.Publish(Output{SubjectID: "head"}))
	msgs := mock.Published("headanchor/head")
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.True(t, msgs[0].Retain)

	mock.SetPublishError(errors.New("quota"))
	assert.Error(t, p.Publish(Output{SubjectID: "head"}))
}
