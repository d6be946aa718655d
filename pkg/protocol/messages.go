package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message type discriminants as they appear in the wire JSON `type` field.
const (
	TypeLogin          = "login"
	TypeLogout         = "logout"
	TypeRoster         = "old_friend_list"
	TypeFriendLogin    = "new_friend_login"
	TypeUserLogout     = "one_user_logout"
	TypeSquareMessage  = "square_message"
	TypePrivateMessage = "private_message"
)

// TimestampFormat is the wall-clock format carried in every message.
// Local time, no timezone.
const TimestampFormat = "2006-01-02 15:04:05"

var ErrMalformedMessage = errors.New("malformed message")

// Timestamp returns the current local time in wire format.
func Timestamp() string {
	return time.Now().Format(TimestampFormat)
}

// Message is the closed union of everything that travels in a frame payload.
type Message interface {
	MessageType() string
}

// PortNumber is a TCP port that tolerates being transported as either a
// JSON number or a JSON string. Routing compares ports by exact integer
// equality, so both spellings normalize here, at the decode boundary.
type PortNumber int

func (p *PortNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", s, err)
	}
	*p = PortNumber(n)
	return nil
}

func (p PortNumber) Int() int { return int(p) }

// Address is a (ip, port) pair. On the wire it is a two-element JSON array,
// matching the roster entries sent by unmodified peers.
type Address struct {
	IP   string
	Port int
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{a.IP, a.Port})
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var parts [2]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("address must be a [ip, port] pair: %w", err)
	}
	if err := json.Unmarshal(parts[0], &a.IP); err != nil {
		return fmt.Errorf("address ip: %w", err)
	}
	var port PortNumber
	if err := json.Unmarshal(parts[1], &port); err != nil {
		return fmt.Errorf("address port: %w", err)
	}
	a.Port = port.Int()
	return nil
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// Sender identifies the originating user of a delivered chat message.
// The server injects these fields from its registry; it never trusts a
// client-supplied claim. Zero on client-to-server traffic.
type Sender struct {
	Username string     `json:"username,omitempty"`
	IP       string     `json:"ip,omitempty"`
	Port     PortNumber `json:"port,omitempty"`
}

// LoginMessage announces a user and the local address it claims for
// private-message routing.
type LoginMessage struct {
	Username  string     `json:"username"`
	LocalIP   string     `json:"local_ip"`
	LocalPort PortNumber `json:"local_port"`
	Timestamp string     `json:"timestamp"`
}

func (*LoginMessage) MessageType() string { return TypeLogin }

// LogoutMessage is a client's orderly goodbye.
type LogoutMessage struct {
	Username  string     `json:"username"`
	LocalIP   string     `json:"local_ip"`
	LocalPort PortNumber `json:"local_port"`
	Timestamp string     `json:"timestamp"`
}

func (*LogoutMessage) MessageType() string { return TypeLogout }

// RosterUser is one entry in the login-time roster snapshot.
type RosterUser struct {
	Username string  `json:"username"`
	Address  Address `json:"address"`
}

// RosterMessage (old_friend_list) is sent to a freshly logged-in session.
// The snapshot includes the new user's own entry.
type RosterMessage struct {
	Users     []RosterUser `json:"users"`
	Timestamp string       `json:"timestamp"`
}

func (*RosterMessage) MessageType() string { return TypeRoster }

// FriendLoginMessage (new_friend_login) tells existing sessions about a
// newly arrived user.
type FriendLoginMessage struct {
	Username  string     `json:"username"`
	LocalIP   string     `json:"local_ip"`
	LocalPort PortNumber `json:"local_port"`
	Timestamp string     `json:"timestamp"`
}

func (*FriendLoginMessage) MessageType() string { return TypeFriendLogin }

// UserLogoutMessage (one_user_logout) tells remaining sessions a user left.
type UserLogoutMessage struct {
	Username  string     `json:"username"`
	LocalIP   string     `json:"local_ip"`
	LocalPort PortNumber `json:"local_port"`
	Timestamp string     `json:"timestamp"`
}

func (*UserLogoutMessage) MessageType() string { return TypeUserLogout }

// SquareTextMessage is a broadcast ("square") chat line.
type SquareTextMessage struct {
	Sender
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (*SquareTextMessage) MessageType() string { return TypeSquareMessage }

// PrivateTextMessage is a directed chat line. Inbound it carries the target
// address; delivered copies carry the injected Sender instead.
type PrivateTextMessage struct {
	Sender
	TargetIP   string     `json:"target_ip,omitempty"`
	TargetPort PortNumber `json:"target_port,omitempty"`
	Content    string     `json:"content"`
	Timestamp  string     `json:"timestamp"`
}

func (*PrivateTextMessage) MessageType() string { return TypePrivateMessage }

// MediaKind selects one of the four media subtypes. It also names the
// kind-specific JSON fields ("image_data"/"image_ext" and so on).
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	KindFile  MediaKind = "file"
)

func (k MediaKind) valid() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

func (k MediaKind) dataField() string { return string(k) + "_data" }
func (k MediaKind) extField() string  { return string(k) + "_ext" }

// SquareMediaMessage is a broadcast attachment. Data is the base64-encoded
// file content.
type SquareMediaMessage struct {
	Sender
	Kind      MediaKind
	Data      string
	Ext       string
	FileName  string
	Timestamp string
}

func (m *SquareMediaMessage) MessageType() string { return "square_" + string(m.Kind) }

// PrivateMediaMessage is a directed attachment.
type PrivateMediaMessage struct {
	Sender
	Kind       MediaKind
	TargetIP   string
	TargetPort PortNumber
	Data       string
	Ext        string
	FileName   string
	Timestamp  string
}

func (m *PrivateMediaMessage) MessageType() string { return "private_" + string(m.Kind) }

// mediaWire covers every field any media variant can carry. Decoding reads
// the kind-specific data/ext pair; the rest stay empty.
type mediaWire struct {
	Username   string     `json:"username,omitempty"`
	IP         string     `json:"ip,omitempty"`
	Port       PortNumber `json:"port,omitempty"`
	TargetIP   string     `json:"target_ip,omitempty"`
	TargetPort PortNumber `json:"target_port,omitempty"`
	ImageData  string     `json:"image_data,omitempty"`
	ImageExt   string     `json:"image_ext,omitempty"`
	VideoData  string     `json:"video_data,omitempty"`
	VideoExt   string     `json:"video_ext,omitempty"`
	AudioData  string     `json:"audio_data,omitempty"`
	AudioExt   string     `json:"audio_ext,omitempty"`
	FileData   string     `json:"file_data,omitempty"`
	FileExt    string     `json:"file_ext,omitempty"`
	FileName   string     `json:"file_name,omitempty"`
	Timestamp  string     `json:"timestamp"`
}

func (w *mediaWire) dataExt(kind MediaKind) (string, string) {
	switch kind {
	case KindImage:
		return w.ImageData, w.ImageExt
	case KindVideo:
		return w.VideoData, w.VideoExt
	case KindAudio:
		return w.AudioData, w.AudioExt
	default:
		return w.FileData, w.FileExt
	}
}

// Decode parses a frame payload into its typed message. It fails with
// ErrMalformedMessage when the payload is not valid JSON or the type
// discriminant is missing or unrecognized. A malformed payload is not a
// transport error: callers skip the frame and keep reading.
func Decode(payload []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformedMessage)
	}

	unmarshal := func(m Message) (Message, error) {
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Type, err)
		}
		return m, nil
	}

	switch probe.Type {
	case TypeLogin:
		return unmarshal(&LoginMessage{})
	case TypeLogout:
		return unmarshal(&LogoutMessage{})
	case TypeRoster:
		return unmarshal(&RosterMessage{})
	case TypeFriendLogin:
		return unmarshal(&FriendLoginMessage{})
	case TypeUserLogout:
		return unmarshal(&UserLogoutMessage{})
	case TypeSquareMessage:
		return unmarshal(&SquareTextMessage{})
	case TypePrivateMessage:
		return unmarshal(&PrivateTextMessage{})
	}

	if scope, kind, ok := splitMediaType(probe.Type); ok {
		var w mediaWire
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Type, err)
		}
		data, ext := w.dataExt(kind)
		sender := Sender{Username: w.Username, IP: w.IP, Port: w.Port}
		if scope == "square" {
			return &SquareMediaMessage{
				Sender: sender, Kind: kind,
				Data: data, Ext: ext, FileName: w.FileName, Timestamp: w.Timestamp,
			}, nil
		}
		return &PrivateMediaMessage{
			Sender: sender, Kind: kind,
			TargetIP: w.TargetIP, TargetPort: w.TargetPort,
			Data: data, Ext: ext, FileName: w.FileName, Timestamp: w.Timestamp,
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, probe.Type)
}

func splitMediaType(t string) (scope string, kind MediaKind, ok bool) {
	scope, rest, found := strings.Cut(t, "_")
	if !found || (scope != "square" && scope != "private") {
		return "", "", false
	}
	kind = MediaKind(rest)
	if !kind.valid() {
		return "", "", false
	}
	return scope, kind, true
}

// Encode serializes a message to its wire JSON, including the type
// discriminant. Media messages get their kind-specific field names here.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case *SquareMediaMessage:
		if !msg.Kind.valid() {
			return nil, fmt.Errorf("invalid media kind %q", msg.Kind)
		}
		obj := map[string]any{
			"type":               m.MessageType(),
			msg.Kind.dataField(): msg.Data,
			msg.Kind.extField():  msg.Ext,
			"file_name":          msg.FileName,
			"timestamp":          msg.Timestamp,
		}
		addSender(obj, msg.Sender)
		return json.Marshal(obj)

	case *PrivateMediaMessage:
		if !msg.Kind.valid() {
			return nil, fmt.Errorf("invalid media kind %q", msg.Kind)
		}
		obj := map[string]any{
			"type":               m.MessageType(),
			msg.Kind.dataField(): msg.Data,
			msg.Kind.extField():  msg.Ext,
			"file_name":          msg.FileName,
			"timestamp":          msg.Timestamp,
		}
		if msg.TargetIP != "" || msg.TargetPort != 0 {
			obj["target_ip"] = msg.TargetIP
			obj["target_port"] = msg.TargetPort.Int()
		}
		addSender(obj, msg.Sender)
		return json.Marshal(obj)

	default:
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		// Splice the discriminant in front of the struct's own fields.
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		obj["type"] = json.RawMessage(strconv.Quote(m.MessageType()))
		return json.Marshal(obj)
	}
}

func addSender(obj map[string]any, s Sender) {
	if s.Username == "" && s.IP == "" && s.Port == 0 {
		return
	}
	obj["username"] = s.Username
	obj["ip"] = s.IP
	obj["port"] = s.Port.Int()
}
