// Package dispatch routes decoded request frames to the auth, social, and
// rooms services, enforcing the unauthenticated/authenticated frame split
// (spec.md §4.E) the way the teacher's websocket handler routes on a
// message's Type field.
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/kramQAQ/inksprint/internal/apierr"
	"github.com/kramQAQ/inksprint/internal/auth"
	"github.com/kramQAQ/inksprint/internal/metrics"
	"github.com/kramQAQ/inksprint/internal/protocol"
	"github.com/kramQAQ/inksprint/internal/rooms"
	"github.com/kramQAQ/inksprint/internal/social"
)

// publicTypes may be dispatched before login (spec.md §4.E).
var publicTypes = map[string]bool{
	protocol.TypeRegister:      true,
	protocol.TypeLogin:         true,
	protocol.TypeSendCode:      true,
	protocol.TypeResetPassword: true,
}

// Session is the per-connection authentication state the dispatcher reads
// and mutates. UserID is zero until a successful login.
type Session struct {
	UserID int64
}

// LoggedIn reports whether the session has completed login.
func (s *Session) LoggedIn() bool { return s.UserID != 0 }

// handlerFunc is the shape every route table entry satisfies; handlers
// that don't need the session or the decoded request ignore those
// parameters.
type handlerFunc func(d *Dispatcher, session *Session, req protocol.Request) (protocol.Message, error)

// Dispatcher wires the handler services behind a single entry point. The
// route table is built once at construction (spec.md §4.E's "table of
// type-string to handler pairs"), not a type switch re-evaluated per frame.
type Dispatcher struct {
	auth    *auth.Service
	social  *social.Service
	rooms   *rooms.Service
	metrics *metrics.Counters
	handler map[string]handlerFunc
}

// New builds a Dispatcher. counters may be nil, in which case requests are
// routed without being recorded (used by tests that don't care about the
// admin surface).
func New(authSvc *auth.Service, socialSvc *social.Service, roomsSvc *rooms.Service, counters *metrics.Counters) *Dispatcher {
	d := &Dispatcher{auth: authSvc, social: socialSvc, rooms: roomsSvc, metrics: counters}
	d.handler = map[string]handlerFunc{
		protocol.TypeRegister:      func(d *Dispatcher, _ *Session, req protocol.Request) (protocol.Message, error) { return d.handleRegister(req) },
		protocol.TypeLogin:         func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleLogin(s, req) },
		protocol.TypeSendCode:      func(d *Dispatcher, _ *Session, req protocol.Request) (protocol.Message, error) { return d.handleSendCode(req) },
		protocol.TypeResetPassword: func(d *Dispatcher, _ *Session, req protocol.Request) (protocol.Message, error) { return d.handleResetPassword(req) },
		protocol.TypeUpdateProfile: func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleUpdateProfile(s, req) },

		protocol.TypeSyncData:     func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleSyncData(s, req) },
		protocol.TypeGetAnalytics: func(d *Dispatcher, s *Session, _ protocol.Request) (protocol.Message, error) { return d.handleGetAnalytics(s) },
		protocol.TypeGetDetails:   func(d *Dispatcher, s *Session, _ protocol.Request) (protocol.Message, error) { return d.handleGetDetails(s) },

		protocol.TypeSearchUser:     func(d *Dispatcher, _ *Session, req protocol.Request) (protocol.Message, error) { return d.handleSearchUser(req) },
		protocol.TypeAddFriend:      func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleAddFriend(s, req) },
		protocol.TypeDeleteFriend:   func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleDeleteFriend(s, req) },
		protocol.TypeFriendRequests: func(d *Dispatcher, s *Session, _ protocol.Request) (protocol.Message, error) { return d.handleGetFriendRequests(s) },
		protocol.TypeRespondFriend:  func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleRespondFriend(s, req) },
		protocol.TypeGetFriends:     func(d *Dispatcher, s *Session, _ protocol.Request) (protocol.Message, error) { return d.handleGetFriends(s) },

		protocol.TypeCreateGroup:    func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleCreateGroup(s, req) },
		protocol.TypeGetPublicRooms: func(d *Dispatcher, s *Session, _ protocol.Request) (protocol.Message, error) { return d.handleGetPublicGroups(s) },
		protocol.TypeJoinGroup:      func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleJoinGroup(s, req) },
		protocol.TypeLeaveGroup:     func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleLeaveGroup(s, req) },
		protocol.TypeGroupChat:      func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleGroupChat(s, req) },
		protocol.TypeGetGroupDetail: func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleGetGroupDetail(s, req) },
		protocol.TypeSprintControl:  func(d *Dispatcher, s *Session, req protocol.Request) (protocol.Message, error) { return d.handleSprintControl(s, req) },
	}
	return d
}

// Outcome tells the connection loop what to do after Handle returns:
// whether to reply, what to reply with, and whether to keep the connection
// open.
type Outcome struct {
	Reply        protocol.Message
	HasReply     bool
	CloseConn    bool
	AttachUserID int64 // set to non-zero right after a successful login
}

// Handle decodes one frame and dispatches it. It never panics on malformed
// input: a JSON decode failure is reported as Protocol (closes the
// connection), matching spec.md §4.E.
func (d *Dispatcher) Handle(session *Session, frame []byte) Outcome {
	var req protocol.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return Outcome{CloseConn: true}
	}

	if req.Type == "" {
		return Outcome{CloseConn: true}
	}

	if d.metrics != nil {
		d.metrics.RecordRequest(req.Type)
	}

	if !publicTypes[req.Type] && !session.LoggedIn() {
		return Outcome{
			Reply:    protocol.Message{"type": protocol.TypeResponse, "status": protocol.StatusError, "msg": "not_logged_in"},
			HasReply: true,
		}
	}

	reply, err := d.route(session, req)
	if err != nil {
		return errorOutcome(err, req.Type)
	}
	if reply == nil {
		return Outcome{}
	}
	out := Outcome{Reply: reply, HasReply: true}
	if req.Type == protocol.TypeLogin {
		out.AttachUserID = session.UserID
	}
	return out
}

// responseTypeForRequest maps a request's type to the response type its
// successful reply carries, so an error reply for that same request wears
// the operation's own response type instead of a generic one (spec.md §7:
// CredentialFailure on login yields login_response, SideEffectFailure on
// send_code yields code_response, and so on). Request types whose
// successful reply has no dedicated type (add_friend, group_chat,
// sprint_control, ...) fall back to protocol.TypeResponse, matching their
// own success shape.
var responseTypeForRequest = map[string]string{
	protocol.TypeRegister:       protocol.TypeRegisterResponse,
	protocol.TypeLogin:          protocol.TypeLoginResponse,
	protocol.TypeSendCode:       protocol.TypeCodeResponse,
	protocol.TypeResetPassword:  protocol.TypeResetResponse,
	protocol.TypeUpdateProfile:  protocol.TypeProfileUpdated,
	protocol.TypeSearchUser:     protocol.TypeSearchUserResponse,
	protocol.TypeFriendRequests: protocol.TypeFriendRequestsResp,
	protocol.TypeGetFriends:     protocol.TypeGetFriendsResponse,
	protocol.TypeCreateGroup:    protocol.TypeCreateGroupResp,
	protocol.TypeGetPublicRooms: protocol.TypeGroupListResponse,
	protocol.TypeJoinGroup:      protocol.TypeJoinGroupResponse,
	protocol.TypeLeaveGroup:     protocol.TypeLeaveGroupResponse,
	protocol.TypeGetGroupDetail: protocol.TypeGroupDetailResp,
}

// errorOutcome maps a handler error to a wire reply per spec.md §7's
// per-kind table: Protocol closes the connection; Transient keeps
// status: error; every other kind (CredentialFailure, Conflict, NotFound,
// Forbidden, SideEffectFailure) reports status: fail on the failing
// operation's own response type, carrying the error's extra hint fields
// (current_group_id, need_password, ...) if any.
func errorOutcome(err error, reqType string) Outcome {
	ae, ok := err.(*apierr.Error)
	if !ok {
		return Outcome{CloseConn: true}
	}
	if ae.Kind == apierr.Protocol {
		return Outcome{CloseConn: true}
	}

	respType, ok := responseTypeForRequest[reqType]
	if !ok {
		respType = protocol.TypeResponse
	}

	status := protocol.StatusFail
	if ae.Kind == apierr.Transient {
		status = protocol.StatusError
	}

	msg := protocol.Message{"type": respType, "status": status, "msg": ae.Code}
	for k, v := range ae.Extra {
		msg[k] = v
	}
	return Outcome{Reply: msg, HasReply: true}
}

// route looks up req.Type in the handler table built at construction.
// An unrecognized type yields a generic acknowledgement (spec.md §4.E).
func (d *Dispatcher) route(session *Session, req protocol.Request) (protocol.Message, error) {
	h, ok := d.handler[req.Type]
	if !ok {
		return protocol.Message{"type": protocol.TypeResponse, "status": protocol.StatusOK, "msg": "Ack"}, nil
	}
	return h(d, session, req)
}

func now() int64 { return time.Now().Unix() }
