// Package protocol implements the binary codec for the legacy game-client
// login handshake. All packets start with a 2-byte little-endian type tag
// and use fixed field offsets; integers are little-endian and strings
// live in fixed-size NUL-padded regions.
package protocol

import "net/netip"

// Packet type tags.
const (
	// Incoming from game client
	TypeLoginRequest int16 = 0x0064 // CA_LOGIN
	TypeEnterRequest int16 = 0x0065 // CH_ENTER

	// Outgoing to game client
	TypeLoginRefused    int16 = 0x006A // AC_REFUSE_LOGIN
	TypeEnterAck        int16 = 0x006C // acknowledgement of CH_ENTER
	TypeBanNotification int16 = 0x0081 // SC_NOTIFY_BAN
	TypeLoginAccepted   int16 = 0x0AC4 // AC_ACCEPT_LOGIN
)

// Wire sizes.
const (
	TypeSize = 2

	LoginRequestSize    = 55
	EnterRequestMinSize = 0x11
	LoginRefusedSize    = 23
	BanNotificationSize = 3
	EnterAckSize        = 3

	LoginAcceptedHeaderSize = 0x40
	ServerDescriptorSize    = 0xA0

	// MaxServers keeps the LoginAccepted total length within its u16 field.
	MaxServers = (0xFFFF - LoginAcceptedHeaderSize) / ServerDescriptorSize

	UserIDSize     = 24
	PasswordSize   = 24
	BlockDateSize  = 20
	ServerNameSize = 20
)

// Direction tells which side of the connection originates a packet.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ServerToClient {
		return "server->client"
	}
	return "client->server"
}

// Packet is one protocol message. The set of implementations is closed.
type Packet interface {
	PacketType() int16
	Direction() Direction
}

// LoginRequest (0x64) carries the client's credentials.
type LoginRequest struct {
	Version    uint32
	UserID     string
	Password   string
	ClientType uint8
}

func (LoginRequest) PacketType() int16    { return TypeLoginRequest }
func (LoginRequest) Direction() Direction { return ClientToServer }

// EnterRequest (0x65) is sent by a client that already holds an auth code.
type EnterRequest struct {
	AccountID  uint32
	AuthCode   int32
	UserLevel  uint32
	ClientType int16
	Sex        string
}

func (EnterRequest) PacketType() int16    { return TypeEnterRequest }
func (EnterRequest) Direction() Direction { return ClientToServer }

// Sex of an account as carried by LoginAccepted.
type Sex int

const (
	Male Sex = iota
	Female
)

// Char returns the one-letter wire form.
func (s Sex) Char() string {
	if s == Female {
		return "F"
	}
	return "M"
}

func (s Sex) String() string {
	if s == Female {
		return "female"
	}
	return "male"
}

// ParseSex maps "M"/"F" (any case) to a Sex. Anything else is Male.
func ParseSex(s string) Sex {
	if s == "F" || s == "f" {
		return Female
	}
	return Male
}

// ServerStatus is the state flag shown next to a character server.
type ServerStatus uint16

const (
	ServerNormal      ServerStatus = 0
	ServerMaintenance ServerStatus = 1
	ServerOver18      ServerStatus = 2
	ServerPaying      ServerStatus = 3
	ServerP2P         ServerStatus = 4
)

var serverStatusStrings = map[ServerStatus]string{
	ServerNormal:      "normal",
	ServerMaintenance: "maintenance",
	ServerOver18:      "over18",
	ServerPaying:      "paying",
	ServerP2P:         "p2p",
}

func (s ServerStatus) String() string {
	if str, ok := serverStatusStrings[s]; ok {
		return str
	}
	return "unknown"
}

// ParseServerStatus maps a config name to its status. ok is false for
// unknown names.
func ParseServerStatus(name string) (ServerStatus, bool) {
	for status, str := range serverStatusStrings {
		if str == name {
			return status, true
		}
	}
	return ServerNormal, false
}

// ServerDescriptor advertises one character server in LoginAccepted.
type ServerDescriptor struct {
	IP     netip.Addr
	Port   uint16
	Name   string
	Users  uint16
	Status ServerStatus
	IsNew  bool
}

// LoginAccepted (0xAC4) completes a successful login.
type LoginAccepted struct {
	AuthCode  int32
	AccountID uint32
	UserLevel uint32
	Sex       Sex
	Servers   []ServerDescriptor
}

func (LoginAccepted) PacketType() int16    { return TypeLoginAccepted }
func (LoginAccepted) Direction() Direction { return ServerToClient }

// Size returns the encoded length for the current server list.
func (p LoginAccepted) Size() int {
	return LoginAcceptedHeaderSize + ServerDescriptorSize*len(p.Servers)
}

// RefuseReason is the cause carried by LoginRefused.
type RefuseReason uint8

const (
	RefuseUnregisteredID       RefuseReason = 0
	RefuseIncorrectIDPassword  RefuseReason = 1
	RefuseIDExpired            RefuseReason = 2
	RefuseAccountBlocked       RefuseReason = 4
	RefuseExeNotLatestVersion  RefuseReason = 5
	RefuseLoginProhibitedUntil RefuseReason = 6
	RefuseServerOverpopulation RefuseReason = 7
	RefuseCantConnectSakray    RefuseReason = 8
)

var refuseReasonStrings = map[RefuseReason]string{
	RefuseUnregisteredID:       "unregistered_id",
	RefuseIncorrectIDPassword:  "incorrect_id_password",
	RefuseIDExpired:            "id_expired",
	RefuseAccountBlocked:       "account_blocked",
	RefuseExeNotLatestVersion:  "exe_not_latest_version",
	RefuseLoginProhibitedUntil: "login_prohibited_until",
	RefuseServerOverpopulation: "server_overpopulation",
	RefuseCantConnectSakray:    "cant_connect_sakray",
}

func (r RefuseReason) String() string {
	if str, ok := refuseReasonStrings[r]; ok {
		return str
	}
	return "unknown"
}

// RefuseReasons lists every defined refusal code in wire order.
var RefuseReasons = []RefuseReason{
	RefuseUnregisteredID,
	RefuseIncorrectIDPassword,
	RefuseIDExpired,
	RefuseAccountBlocked,
	RefuseExeNotLatestVersion,
	RefuseLoginProhibitedUntil,
	RefuseServerOverpopulation,
	RefuseCantConnectSakray,
}

// LoginRefused (0x6A) rejects a login. An empty BlockDate is not written.
type LoginRefused struct {
	Reason    RefuseReason
	BlockDate string
}

func (LoginRefused) PacketType() int16    { return TypeLoginRefused }
func (LoginRefused) Direction() Direction { return ServerToClient }

// BanReason is the cause carried by BanNotification.
type BanReason uint8

const (
	BanServerClosed         BanReason = 1
	BanAlreadyLoggedIn      BanReason = 2
	BanLoginStillRecognized BanReason = 8
)

func (r BanReason) String() string {
	switch r {
	case BanServerClosed:
		return "server_closed"
	case BanAlreadyLoggedIn:
		return "already_logged_in"
	case BanLoginStillRecognized:
		return "login_still_recognized"
	default:
		return "unknown"
	}
}

// BanNotification (0x81) tells the client why it is being disconnected.
type BanNotification struct {
	Reason BanReason
}

func (BanNotification) PacketType() int16    { return TypeBanNotification }
func (BanNotification) Direction() Direction { return ServerToClient }

// EnterAck (0x6C) answers an EnterRequest.
type EnterAck struct {
	Code uint8
}

func (EnterAck) PacketType() int16    { return TypeEnterAck }
func (EnterAck) Direction() Direction { return ServerToClient }

// Name returns a short human name for a packet type tag, for logs.
func Name(packetType int16) string {
	switch packetType {
	case TypeLoginRequest:
		return "login_request"
	case TypeEnterRequest:
		return "enter_request"
	case TypeLoginRefused:
		return "login_refused"
	case TypeEnterAck:
		return "enter_ack"
	case TypeBanNotification:
		return "ban_notification"
	case TypeLoginAccepted:
		return "login_accepted"
	default:
		return "unknown"
	}
}
