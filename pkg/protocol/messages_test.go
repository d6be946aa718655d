package protocol

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLogin(t *testing.T) {
	t.Run("port as number", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"login","username":"alice","local_ip":"10.0.0.1","local_port":5001,"timestamp":"2024-01-01 10:00:00"}`))
		require.NoError(t, err)

		login, ok := msg.(*LoginMessage)
		require.True(t, ok)
		assert.Equal(t, "alice", login.Username)
		assert.Equal(t, "10.0.0.1", login.LocalIP)
		assert.Equal(t, 5001, login.LocalPort.Int())
		assert.Equal(t, "2024-01-01 10:00:00", login.Timestamp)
	})

	t.Run("port as string", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"login","username":"bob","local_ip":"10.0.0.2","local_port":"5002","timestamp":"2024-01-01 10:00:00"}`))
		require.NoError(t, err)

		login, ok := msg.(*LoginMessage)
		require.True(t, ok)
		assert.Equal(t, 5002, login.LocalPort.Int())
	})
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "invalid json", payload: `{"type":"login",`},
		{name: "missing type", payload: `{"username":"alice"}`},
		{name: "empty type", payload: `{"type":""}`},
		{name: "unknown type", payload: `{"type":"shrug"}`},
		{name: "unknown media scope", payload: `{"type":"broadcast_image"}`},
		{name: "unknown media kind", payload: `{"type":"square_hologram"}`},
		{name: "non-object payload", payload: `[1,2,3]`},
		{name: "bad port value", payload: `{"type":"private_message","target_ip":"10.0.0.1","target_port":"not-a-port","content":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestDecodeMediaVariants(t *testing.T) {
	for _, kind := range []MediaKind{KindImage, KindVideo, KindAudio, KindFile} {
		t.Run(fmt.Sprintf("square_%s", kind), func(t *testing.T) {
			payload := fmt.Sprintf(
				`{"type":"square_%s","%s_data":"YWJj","%s_ext":".bin","file_name":"a.bin","timestamp":"2024-01-01 10:00:00"}`,
				kind, kind, kind)

			msg, err := Decode([]byte(payload))
			require.NoError(t, err)

			media, ok := msg.(*SquareMediaMessage)
			require.True(t, ok)
			assert.Equal(t, kind, media.Kind)
			assert.Equal(t, "YWJj", media.Data)
			assert.Equal(t, ".bin", media.Ext)
			assert.Equal(t, "a.bin", media.FileName)
			assert.Equal(t, "square_"+string(kind), media.MessageType())
		})

		t.Run(fmt.Sprintf("private_%s", kind), func(t *testing.T) {
			payload := fmt.Sprintf(
				`{"type":"private_%s","target_ip":"10.0.0.2","target_port":"5002","%s_data":"eHl6","%s_ext":".dat","file_name":"b.dat","timestamp":"2024-01-01 10:00:00"}`,
				kind, kind, kind)

			msg, err := Decode([]byte(payload))
			require.NoError(t, err)

			media, ok := msg.(*PrivateMediaMessage)
			require.True(t, ok)
			assert.Equal(t, kind, media.Kind)
			assert.Equal(t, "10.0.0.2", media.TargetIP)
			assert.Equal(t, 5002, media.TargetPort.Int())
			assert.Equal(t, "eHl6", media.Data)
		})
	}
}

func TestEncodeIncludesTypeAndTimestamp(t *testing.T) {
	messages := []Message{
		&LoginMessage{Username: "alice", LocalIP: "10.0.0.1", LocalPort: 5001, Timestamp: "2024-01-01 10:00:00"},
		&LogoutMessage{Username: "alice", Timestamp: "2024-01-01 10:00:00"},
		&RosterMessage{Users: []RosterUser{{Username: "alice", Address: Address{IP: "10.0.0.1", Port: 5001}}}, Timestamp: "2024-01-01 10:00:00"},
		&FriendLoginMessage{Username: "bob", Timestamp: "2024-01-01 10:00:00"},
		&UserLogoutMessage{Username: "bob", Timestamp: "2024-01-01 10:00:00"},
		&SquareTextMessage{Content: "hi", Timestamp: "2024-01-01 10:00:00"},
		&PrivateTextMessage{TargetIP: "10.0.0.2", TargetPort: 5002, Content: "psst", Timestamp: "2024-01-01 10:00:00"},
		&SquareMediaMessage{Kind: KindImage, Data: "YWJj", Ext: ".png", FileName: "x.png", Timestamp: "2024-01-01 10:00:00"},
		&PrivateMediaMessage{Kind: KindFile, TargetIP: "10.0.0.2", TargetPort: 5002, Data: "YWJj", Ext: ".txt", FileName: "x.txt", Timestamp: "2024-01-01 10:00:00"},
	}

	for _, msg := range messages {
		t.Run(msg.MessageType(), func(t *testing.T) {
			data, err := Encode(msg)
			require.NoError(t, err)

			var obj map[string]any
			require.NoError(t, json.Unmarshal(data, &obj))
			assert.Equal(t, msg.MessageType(), obj["type"])
			assert.Equal(t, "2024-01-01 10:00:00", obj["timestamp"])
		})
	}
}

func TestEncodeSenderInjection(t *testing.T) {
	t.Run("with sender", func(t *testing.T) {
		data, err := Encode(&SquareTextMessage{
			Sender:    Sender{Username: "alice", IP: "10.0.0.1", Port: 5001},
			Content:   "hi",
			Timestamp: "2024-01-01 10:00:00",
		})
		require.NoError(t, err)

		var obj map[string]any
		require.NoError(t, json.Unmarshal(data, &obj))
		assert.Equal(t, "alice", obj["username"])
		assert.Equal(t, "10.0.0.1", obj["ip"])
		assert.Equal(t, float64(5001), obj["port"])
	})

	t.Run("without sender", func(t *testing.T) {
		data, err := Encode(&SquareTextMessage{Content: "hi", Timestamp: "2024-01-01 10:00:00"})
		require.NoError(t, err)

		var obj map[string]any
		require.NoError(t, json.Unmarshal(data, &obj))
		assert.NotContains(t, obj, "username")
		assert.NotContains(t, obj, "ip")
		assert.NotContains(t, obj, "port")
	})
}

func TestEncodeMediaFieldNames(t *testing.T) {
	data, err := Encode(&SquareMediaMessage{
		Sender:    Sender{Username: "alice", IP: "10.0.0.1", Port: 5001},
		Kind:      KindVideo,
		Data:      "dmlkZW8=",
		Ext:       ".mp4",
		FileName:  "clip.mp4",
		Timestamp: "2024-01-01 10:00:00",
	})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, "square_video", obj["type"])
	assert.Equal(t, "dmlkZW8=", obj["video_data"])
	assert.Equal(t, ".mp4", obj["video_ext"])
	assert.Equal(t, "clip.mp4", obj["file_name"])
	assert.NotContains(t, obj, "image_data")
	assert.NotContains(t, obj, "file_data")
}

func TestEncodePrivateMediaOmitsTargetOnDelivery(t *testing.T) {
	// A delivered copy carries the injected sender, not the target address
	// the original sender supplied.
	data, err := Encode(&PrivateMediaMessage{
		Sender:    Sender{Username: "alice", IP: "10.0.0.1", Port: 5001},
		Kind:      KindAudio,
		Data:      "b2dn",
		Ext:       ".ogg",
		FileName:  "note.ogg",
		Timestamp: "2024-01-01 10:00:00",
	})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.NotContains(t, obj, "target_ip")
	assert.NotContains(t, obj, "target_port")
	assert.Equal(t, "alice", obj["username"])
}

func TestAddressWireFormat(t *testing.T) {
	t.Run("marshal", func(t *testing.T) {
		data, err := json.Marshal(Address{IP: "10.0.0.1", Port: 5001})
		require.NoError(t, err)
		assert.JSONEq(t, `["10.0.0.1",5001]`, string(data))
	})

	t.Run("unmarshal with string port", func(t *testing.T) {
		var addr Address
		require.NoError(t, json.Unmarshal([]byte(`["10.0.0.1","5001"]`), &addr))
		assert.Equal(t, Address{IP: "10.0.0.1", Port: 5001}, addr)
	})

	t.Run("reject non-pair", func(t *testing.T) {
		var addr Address
		assert.Error(t, json.Unmarshal([]byte(`"10.0.0.1:5001"`), &addr))
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &PrivateTextMessage{
		TargetIP:   "10.0.0.2",
		TargetPort: 5002,
		Content:    "round and round",
		Timestamp:  "2024-01-01 10:00:00",
	}

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}
