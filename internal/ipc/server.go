package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"pdfile/internal/daemon"
	"pdfile/internal/history"
	"pdfile/internal/logging"
	"pdfile/internal/services"
	"pdfile/internal/session"
)

// ServiceName is the RPC receiver name clients call methods on.
const ServiceName = "Pdfile"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Go(func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Go(func() {
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
			})
		}
	})
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.Telegram = status.Telegram
	resp.Engine = EngineStats(status.Engine)
	resp.LockPath = status.LockPath
	resp.HistoryPath = status.HistoryPath
	resp.StagingDir = status.StagingDir
	if len(status.Dependencies) > 0 {
		resp.Dependencies = make([]DependencyStatus, 0, len(status.Dependencies))
		for _, dep := range status.Dependencies {
			resp.Dependencies = append(resp.Dependencies, DependencyStatus{
				Name:        dep.Name,
				Command:     dep.Command,
				Description: dep.Description,
				Optional:    dep.Optional,
				Available:   dep.Available,
				Detail:      dep.Detail,
			})
		}
	}
	return nil
}

func (s *service) Sessions(_ SessionsRequest, resp *SessionsResponse) error {
	list := s.daemon.Sessions()
	resp.Sessions = make([]Session, 0, len(list))
	for _, sess := range list {
		resp.Sessions = append(resp.Sessions, sessionDTO(sess))
	}
	return nil
}

func sessionDTO(s session.Session) Session {
	return Session{
		UserID:     s.UserID,
		Operation:  string(s.Operation),
		State:      string(s.State),
		Locale:     s.Locale,
		Generation: s.Generation,
		Files:      s.FileNames(),
		PageCount:  s.PageCount,
		Range:      s.RangeLabel,
		SplitMode:  string(s.SplitMode),
		StartedAt:  s.StartedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (s *service) Send(req SendRequest, resp *SendResponse) error {
	ctx := services.WithRequestID(s.ctx, uuid.NewString())
	s.logger.Debug("local message received",
		logging.String(logging.FieldUserID, req.UserID),
		logging.Bool("upload", strings.TrimSpace(req.FilePath) != ""))

	rendered, err := s.daemon.Send(ctx, daemon.Message{
		UserID:   req.UserID,
		Username: req.Username,
		Locale:   req.Locale,
		Text:     req.Text,
		FilePath: req.FilePath,
	})
	resp.Prompts = rendered
	if err == nil {
		return nil
	}
	// Rejections were already explained to the user through the prompts.
	if len(rendered) > 0 || services.IsInputRejected(err) {
		resp.Error = err.Error()
		return nil
	}
	return err
}

func (s *service) Reset(req ResetRequest, resp *ResetResponse) error {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return errors.New("reset requires a user id")
	}
	resp.Reset = s.daemon.Reset(s.ctx, userID)
	s.logger.Info("session reset requested",
		logging.String(logging.FieldUserID, userID),
		logging.Bool("was_running", resp.Reset),
		logging.String(logging.FieldEventType, "session_reset"))
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	jobs, counts, err := s.daemon.History(s.ctx, strings.TrimSpace(req.UserID), req.Limit)
	if err != nil {
		return err
	}
	*resp = HistoryFromStore(jobs, counts)
	return nil
}

// HistoryFromStore converts history rows to their wire form.
func HistoryFromStore(jobs []*history.Job, counts []history.OperationCount) HistoryResponse {
	resp := HistoryResponse{
		Jobs:   make([]Job, 0, len(jobs)),
		Counts: make([]OperationCount, 0, len(counts)),
	}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		resp.Jobs = append(resp.Jobs, Job{
			ID:            job.ID,
			UserID:        job.UserID,
			Channel:       job.Channel,
			Operation:     job.Operation,
			FileCount:     job.FileCount,
			PageCount:     job.PageCount,
			Status:        string(job.Status),
			ErrorKind:     job.ErrorKind,
			ErrorMessage:  job.ErrorMessage,
			Artifact:      job.Artifact,
			ArtifactBytes: job.ArtifactBytes,
			StartedAt:     job.StartedAt,
			Duration:      job.Duration(),
		})
	}
	for _, c := range counts {
		resp.Counts = append(resp.Counts, OperationCount(c))
	}
	return resp
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
