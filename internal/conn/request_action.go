package conn

import (
	"fmt"
	"net/http"

	"github.com/arhag/chainbase/internal/auth"
	"github.com/arhag/chainbase/pkg"
)

type RequestAction string

const (
	// record actions
	RequestActionCreate   RequestAction = "create"
	RequestActionFind     RequestAction = "findUnique"
	RequestActionFindMany RequestAction = "findMany"
	RequestActionUpdate   RequestAction = "updateUnique"
	RequestActionDelete   RequestAction = "deleteUnique"

	// session actions
	RequestActionBeginSession    RequestAction = "beginSession"
	RequestActionPushSession     RequestAction = "pushSession"
	RequestActionSquashSession   RequestAction = "squashSession"
	RequestActionRollbackSession RequestAction = "rollbackSession"
	RequestActionCommit          RequestAction = "commit"

	// database actions
	RequestActionStats RequestAction = "stats"
)

func (action RequestAction) IsReadOnly() bool {
	return action == RequestActionFind || action == RequestActionFindMany ||
		action == RequestActionStats
}

func (s *Server) ActionHandler(action RequestAction, ctx *ConnCtx, raw []byte) Response {
	var res Response
	if action.IsReadOnly() {
		if !ctx.User.HasClearance(auth.UserRoleReadOnly) {
			return NewErrorResponse(http.StatusForbidden, auth.InsufficientPermissions.Error())
		}
		pkg.RLockWrap(s.DB, func() {
			res = s.dispatch(action, ctx, raw)
		})
	} else {
		if !ctx.User.HasClearance(auth.UserRoleReadWrite) {
			return NewErrorResponse(http.StatusForbidden, auth.InsufficientPermissions.Error())
		}
		pkg.LockWrap(s.DB, func() {
			res = s.dispatch(action, ctx, raw)
		})
	}
	return res
}

func (s *Server) dispatch(action RequestAction, ctx *ConnCtx, raw []byte) Response {
	switch action {
	case RequestActionCreate:
		return s.CreateReqHandler(raw)
	case RequestActionFind:
		return s.FindReqHandler(raw)
	case RequestActionFindMany:
		return s.FindManyReqHandler(raw)
	case RequestActionUpdate:
		return s.UpdateReqHandler(raw)
	case RequestActionDelete:
		return s.DeleteReqHandler(raw)
	case RequestActionBeginSession:
		return s.BeginSessionReqHandler(ctx)
	case RequestActionPushSession:
		return s.PushSessionReqHandler(ctx)
	case RequestActionSquashSession:
		return s.SquashSessionReqHandler(ctx)
	case RequestActionRollbackSession:
		return s.RollbackSessionReqHandler(ctx)
	case RequestActionCommit:
		return s.CommitReqHandler(ctx, raw)
	case RequestActionStats:
		return s.StatsReqHandler()
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
}
