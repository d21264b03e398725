// Package session drives the device-side state machine shared by both
// protocol flavors: handshake, start/end session, the per-file
// envelope, and reboot. It does not itself move chunk data — that is
// internal/pipeline's job — but it negotiates the transfer unit each
// file's pipeline run needs.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/proto"
	"github.com/ddiss/lthor/internal/transport"
)

// Flavor selects which protocol a Session speaks.
type Flavor int

const (
	Thor Flavor = iota
	Odin
)

func (f Flavor) String() string {
	if f == Odin {
		return "odin"
	}
	return "thor"
}

// State is the session's position in the handshake/session/file state
// machine (§4.4).
type State int

const (
	StateOpened State = iota
	StateHandshaked
	StateInSession
	StateInFile
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateHandshaked:
		return "handshaked"
	case StateInSession:
		return "in_session"
	case StateInFile:
		return "in_file"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session binds an Endpoints pair to one protocol flavor and tracks
// state-machine position. It is not safe for concurrent use: exactly
// one goroutine drives a Session, matching the cooperative,
// single-threaded model in §5.
type Session struct {
	ep     transport.Endpoints
	flavor Flavor
	state  State
	id     uuid.UUID
	log    *slog.Logger

	controlTimeout time.Duration
	dataTimeout    time.Duration
	unit           int // negotiated transfer unit for the current/last file
}

// Options configures a new Session.
type Options struct {
	ControlTimeout time.Duration // default transport.DefaultControlTimeout
	DataTimeout    time.Duration // default transport.DefaultDataTimeout
	Logger         *slog.Logger  // default slog.Default()
}

// New creates a Session bound to ep, in StateOpened.
func New(ep transport.Endpoints, flavor Flavor, opts Options) *Session {
	if opts.ControlTimeout == 0 {
		opts.ControlTimeout = transport.DefaultControlTimeout
	}
	if opts.DataTimeout == 0 {
		opts.DataTimeout = transport.DefaultDataTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := uuid.New()
	return &Session{
		ep:             ep,
		flavor:         flavor,
		state:          StateOpened,
		id:             id,
		log:            opts.Logger.With("session_id", id.String(), "flavor", flavor.String()),
		controlTimeout: opts.ControlTimeout,
		dataTimeout:    opts.DataTimeout,
	}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Flavor returns the protocol flavor this session speaks.
func (s *Session) Flavor() Flavor { return s.flavor }

// Unit returns the transfer unit negotiated by the most recent
// StartSession or FileInfo call.
func (s *Session) Unit() int { return s.unit }

// ID returns the session's correlation id, attached to every log line
// this session emits.
func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) requireState(want State, op string) error {
	if s.state != want {
		return flasherr.New(flasherr.InvalidArgument, "%s requires state %s, have %s", op, want, s.state)
	}
	return nil
}

// Handshake performs the 4-byte challenge/response exchange. Thor
// sends "THOR" and requires "ROHT"; Odin sends "ODIN" and requires
// "LOKE". Any other response is a fatal handshake failure.
func (s *Session) Handshake(ctx context.Context) error {
	if err := s.requireState(StateOpened, "handshake"); err != nil {
		return err
	}

	var challenge, want string
	if s.flavor == Odin {
		challenge, want = "ODIN", "LOKE"
	} else {
		challenge, want = "THOR", "ROHT"
	}

	if err := transport.Send(ctx, s.ep, []byte(challenge), s.controlTimeout); err != nil {
		return err
	}
	buf := make([]byte, 4)
	if _, err := transport.Recv(ctx, s.ep, buf, s.controlTimeout); err != nil {
		return err
	}
	if string(buf) != want {
		return flasherr.New(flasherr.InvalidArgument, "handshake failed: got %q, want %q", buf, want)
	}
	s.log.Info("handshake complete")
	s.state = StateHandshaked
	return nil
}

// exec performs one Thor request/response round trip, returning the
// decoded response. Nonzero ack is surfaced as a DeviceError; the
// session does not retry.
func (s *Session) exec(ctx context.Context, group, subid int32, ints []int32, strs []string) (*proto.Response, error) {
	req, err := proto.EncodeRequest(group, subid, ints, strs)
	if err != nil {
		return nil, err
	}
	if err := transport.Send(ctx, s.ep, req, s.controlTimeout); err != nil {
		return nil, err
	}
	buf := make([]byte, proto.RespPktSize)
	if _, err := transport.Recv(ctx, s.ep, buf, s.controlTimeout); err != nil {
		return nil, err
	}
	resp, err := proto.DecodeResponse(buf)
	if err != nil {
		return nil, err
	}
	if resp.Ack != 0 {
		return resp, flasherr.Device(resp.Ack, "%s/%d nonzero ack", s.flavor, subid)
	}
	return resp, nil
}

// packDLEndWord adapts proto.PackDLEnd (which has no word argument) to
// the (subid, word) pack signature odinExec expects.
func packDLEndWord(subid, word int32) ([]byte, error) {
	return proto.PackDLEnd(subid)
}

// odinExec performs one Odin request/response round trip through the
// DL-INIT/DL-END/PIT/DEVINFO codec pair selected by pack/unpack.
func (s *Session) odinExec(ctx context.Context, pack func(subid, word int32) ([]byte, error), unpack func([]byte) (*proto.OdinResponse, error), subid, word int32) (*proto.OdinResponse, error) {
	req, err := pack(subid, word)
	if err != nil {
		return nil, err
	}
	if err := transport.Send(ctx, s.ep, req, s.controlTimeout); err != nil {
		return nil, err
	}
	buf := make([]byte, 8)
	if _, err := transport.Recv(ctx, s.ep, buf, s.controlTimeout); err != nil {
		return nil, err
	}
	return unpack(buf)
}

// StartSession begins a download session. For Thor, totalBytes is
// sent as the DL_INIT request's sole int field. For Odin, DL_INIT is
// packed with subid BEGIN and xfer_size 0; the device's response
// carries the Loke-chosen transfer unit, which MUST be non-zero.
func (s *Session) StartSession(ctx context.Context, totalBytes int64) error {
	if err := s.requireState(StateHandshaked, "start_session"); err != nil {
		return err
	}

	if s.flavor == Odin {
		resp, err := s.odinExec(ctx, proto.PackDLInit, proto.UnpackDLInit, proto.DLInitBegin, 0)
		if err != nil {
			return err
		}
		if resp.Word == 0 {
			return flasherr.New(flasherr.FramingError, "odin DL_INIT returned zero transfer unit")
		}
		s.unit = int(resp.Word)
	} else {
		if _, err := s.exec(ctx, proto.GroupDL, proto.DLInit, []int32{int32(totalBytes)}, nil); err != nil {
			return err
		}
	}
	s.log.Info("session started", "total_bytes", totalBytes, "flavor", s.flavor)
	s.state = StateInSession
	return nil
}

// SetDeviceType, SetTotalBytes, SetTransferSize, and SetThinFormat
// pack the remaining Odin DL-INIT sub-ids the upstream protocol
// defines beyond BEGIN. They are optional pre-session negotiation
// steps a caller may issue between Handshake and StartSession; they do
// not change session state.
func (s *Session) SetDeviceType(ctx context.Context, deviceType int32) error {
	return s.odinSet(ctx, proto.DLInitDeviceType, deviceType)
}

func (s *Session) SetTotalBytes(ctx context.Context, bytes int32) error {
	return s.odinSet(ctx, proto.DLInitBytes, bytes)
}

func (s *Session) SetTransferSize(ctx context.Context, xferSize int32) error {
	return s.odinSet(ctx, proto.DLInitXferSize, xferSize)
}

func (s *Session) SetThinFormat(ctx context.Context, thinFormat int32) error {
	return s.odinSet(ctx, proto.DLInitTF, thinFormat)
}

func (s *Session) odinSet(ctx context.Context, subid, word int32) error {
	if s.flavor != Odin {
		return flasherr.New(flasherr.InvalidArgument, "odin DL_INIT sub-request on a %s session", s.flavor)
	}
	_, err := s.odinExec(ctx, proto.PackDLInit, proto.UnpackDLInit, subid, word)
	return err
}

// FileInfo announces the next file's data type, length, and name.
// The response's first int is the device-chosen transfer unit for
// this file's body; subsequent chunks MUST be exactly that many bytes
// on the wire.
func (s *Session) FileInfo(ctx context.Context, dataType int32, fileLength int64, name string) error {
	if err := s.requireState(StateInSession, "file_info"); err != nil {
		return err
	}
	resp, err := s.exec(ctx, proto.GroupDL, proto.DLFileInfo, []int32{dataType, int32(fileLength)}, []string{name})
	if err != nil {
		return err
	}
	s.unit = int(resp.Ints[0])
	if s.unit <= 0 {
		return flasherr.New(flasherr.FramingError, "file_info returned non-positive transfer unit: %d", s.unit)
	}
	s.log.Info("file_info", "name", name, "length", fileLength, "unit", s.unit)
	return nil
}

// FileStart moves the session into InFile.
func (s *Session) FileStart(ctx context.Context) error {
	if err := s.requireState(StateInSession, "file_start"); err != nil {
		return err
	}
	if _, err := s.exec(ctx, proto.GroupDL, proto.DLFileStart, nil, nil); err != nil {
		return err
	}
	s.state = StateInFile
	return nil
}

// FileEnd closes the current file's envelope, returning to InSession.
func (s *Session) FileEnd(ctx context.Context) error {
	if err := s.requireState(StateInFile, "file_end"); err != nil {
		return err
	}
	if _, err := s.exec(ctx, proto.GroupDL, proto.DLFileEnd, nil, nil); err != nil {
		return err
	}
	s.state = StateInSession
	return nil
}

// EndSession closes the download session. For Thor this sends
// DL_EXIT; a missing response is logged as a warning, not treated as
// fatal (quirk of some bootloaders). For Odin this packs DL_END with
// subid REG.
func (s *Session) EndSession(ctx context.Context) error {
	if err := s.requireState(StateInSession, "end_session"); err != nil {
		return err
	}
	if s.flavor == Odin {
		if _, err := s.odinExec(ctx, packDLEndWord, proto.UnpackDLEnd, proto.DLEndReg, 0); err != nil {
			return err
		}
	} else {
		if _, err := s.exec(ctx, proto.GroupDL, proto.DLExit, nil, nil); err != nil {
			if !flasherr.Is(err, flasherr.IoError) {
				return err
			}
			s.log.Warn("no DL_EXIT response; continuing", "err", err)
		}
	}
	s.state = StateClosed
	return nil
}

// Reboot asks the device to reboot. For Thor this sends CMD/REBOOT;
// for Odin this packs DL_END with subid REBOOT.
func (s *Session) Reboot(ctx context.Context) error {
	if s.flavor == Odin {
		_, err := s.odinExec(ctx, packDLEndWord, proto.UnpackDLEnd, proto.DLEndReboot, 0)
		return err
	}
	_, err := s.exec(ctx, proto.GroupCmd, proto.CmdReboot, nil, nil)
	return err
}

// StartPITDump issues the Odin PIT DUMP request and returns the
// device-reported total length, for internal/pit to drive.
func (s *Session) StartPITDump(ctx context.Context) (int32, error) {
	if s.flavor != Odin {
		return 0, flasherr.New(flasherr.InvalidArgument, "PIT dump requires an odin session")
	}
	resp, err := s.odinExec(ctx, proto.PackPIT, proto.UnpackPIT, proto.PITDump, 0)
	if err != nil {
		return 0, err
	}
	return resp.Word, nil
}

// Endpoints exposes the underlying transport for internal/pipeline and
// internal/pit, which drive bulk body transfers directly rather than
// through exec.
func (s *Session) Endpoints() transport.Endpoints { return s.ep }

// ControlTimeout and DataTimeout expose the session's configured
// timeouts to the pipeline and PIT drivers.
func (s *Session) ControlTimeout() time.Duration { return s.controlTimeout }
func (s *Session) DataTimeout() time.Duration    { return s.dataTimeout }

// Log exposes the session's correlation-id-scoped logger.
func (s *Session) Log() *slog.Logger { return s.log }
