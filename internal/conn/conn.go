// Package conn serves database operations over websocket connections.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/arhag/chainbase/internal/auth"
	"github.com/arhag/chainbase/internal/db"
	"github.com/arhag/chainbase/pkg"
)

type Server struct {
	DB    *db.Database
	Users []*auth.User
}

func NewServer(d *db.Database, users []*auth.User) *Server {
	return &Server{DB: d, Users: users}
}

type WsRequest struct {
	Action RequestAction `json:"action"`
	ReqId  int           `json:"__chainbase_client_req_id__"` // used by clients
}

var Upgrader = websocket.Upgrader{
	WriteBufferSize: 1024 * 10,
	ReadBufferSize:  1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type ConnRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) connValidate(r ConnRequest) *auth.User {
	if r.Username == "" {
		return nil
	}
	for _, u := range s.Users {
		if u.Name == r.Username && u.ValidateUser(r.Password) {
			return u
		}
	}
	return nil
}

// ConnCtx tracks one authenticated connection and the undo sessions it
// has opened. Sessions still open when the connection drops are
// reverted, newest first.
type ConnCtx struct {
	User     *auth.User
	sessions []*db.Session
}

func (ctx *ConnCtx) pushSession(s *db.Session) { ctx.sessions = append(ctx.sessions, s) }

func (ctx *ConnCtx) popSession() *db.Session {
	if len(ctx.sessions) == 0 {
		return nil
	}
	s := ctx.sessions[len(ctx.sessions)-1]
	ctx.sessions = ctx.sessions[:len(ctx.sessions)-1]
	return s
}

func (ctx *ConnCtx) closeAll() {
	for len(ctx.sessions) > 0 {
		ctx.popSession().Close()
	}
}

func (s *Server) handleWs(conn *websocket.Conn) {
	defer conn.Close()
	ctx := &ConnCtx{}
	defer ctx.closeAll()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pkg.ErrorLog("error reading message:", err)
			}
			return
		}

		if ctx.User == nil {
			var r ConnRequest
			if err := json.Unmarshal(message, &r); err != nil {
				conn.WriteJSON(NewErrorResponse(http.StatusBadRequest, err.Error()))
				return
			}
			ctx.User = s.connValidate(r)
			if ctx.User == nil {
				conn.WriteJSON(NewErrorResponse(http.StatusUnauthorized, "invalid auth"))
				return
			}
			conn.WriteJSON(NewResponse(http.StatusOK, "connected", nil))
			continue
		}

		var req WsRequest
		json.Unmarshal(message, &req)

		res := s.ActionHandler(req.Action, ctx, message)
		res.ReqId = req.ReqId

		if err := conn.WriteJSON(res); err != nil {
			pkg.ErrorLog("error writing response:", err)
			return
		}
	}
}

// Listen serves websocket connections on port until SIGINT/SIGTERM.
func (s *Server) Listen(port int) {
	exit := make(chan os.Signal, 2)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port)}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			pkg.ErrorLog(err)
			return
		}
		s.handleWs(conn)
	})

	go func() {
		err := srv.ListenAndServe()
		if err != http.ErrServerClosed {
			pkg.FatalLog(err)
		}
	}()

	pkg.InfoLog("chainbase listening on port", port)
	<-exit
	pkg.InfoLog("shutting down...")
	srv.Shutdown(context.Background())
	s.DB.Close()
}
