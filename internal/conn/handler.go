package conn

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/arhag/chainbase/internal/db"
	"github.com/arhag/chainbase/internal/record"
	"github.com/arhag/chainbase/internal/table"
)

type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// don't manually set this. it comes from the client
	ReqId int `json:"__chainbase_client_req_id__"`
}

func NewErrorResponse(status int, err string) Response {
	return Response{Message: err, Status: status}
}

func NewResponse(status int, message string, data any) Response {
	return Response{Data: data, Message: message, Status: status}
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, table.ERR_NOT_FOUND):
		return http.StatusNotFound
	case errors.Is(err, table.ERR_UNIQUE_KEY_VIOLATION):
		return http.StatusConflict
	case errors.Is(err, db.ERR_READ_ONLY):
		return http.StatusForbidden
	case errors.Is(err, db.ERR_INVALID_STATE):
		return http.StatusPreconditionFailed
	}
	return http.StatusBadRequest
}

func (s *Server) findTable(name string) *table.Table {
	for _, t := range s.DB.Tables() {
		if t.Schema().Name == name {
			return t
		}
	}
	return nil
}

type CreateRequest struct {
	Table string          `json:"table"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) CreateReqHandler(raw []byte) Response {
	var req CreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t := s.findTable(req.Table)
	if t == nil {
		return NewErrorResponse(http.StatusNotFound, "table not found")
	}

	var decodeErr error
	rec, err := s.DB.Create(t.Schema().Tag, func(r record.Record) {
		id := r.GetID()
		decodeErr = json.Unmarshal(req.Data, r)
		r.SetID(id)
	})
	if decodeErr != nil {
		return NewErrorResponse(http.StatusBadRequest, decodeErr.Error())
	}
	if err != nil {
		return NewErrorResponse(errStatus(err), err.Error())
	}

	return NewResponse(http.StatusCreated,
		fmt.Sprintf("created new record in table %s", req.Table), rec)
}

type FindRequest struct {
	Table string `json:"table"`
	Id    uint64 `json:"id"`
}

func (s *Server) FindReqHandler(raw []byte) Response {
	var req FindRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t := s.findTable(req.Table)
	if t == nil {
		return NewErrorResponse(http.StatusNotFound, "table not found")
	}

	rec, err := t.Get(req.Id)
	if err != nil {
		return NewErrorResponse(errStatus(err), err.Error())
	}
	return NewResponse(http.StatusOK, "found record", rec)
}

type FindManyRequest struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

func (s *Server) FindManyReqHandler(raw []byte) Response {
	var req FindManyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t := s.findTable(req.Table)
	if t == nil {
		return NewErrorResponse(http.StatusNotFound, "table not found")
	}

	recs, err := t.ScanBy(req.Key)
	if err != nil {
		return NewErrorResponse(errStatus(err), err.Error())
	}
	return NewResponse(http.StatusOK,
		fmt.Sprintf("found %d records", len(recs)), recs)
}

type UpdateRequest struct {
	Table string          `json:"table"`
	Id    uint64          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) UpdateReqHandler(raw []byte) Response {
	var req UpdateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t := s.findTable(req.Table)
	if t == nil {
		return NewErrorResponse(http.StatusNotFound, "table not found")
	}

	rec, err := t.Get(req.Id)
	if err != nil {
		return NewErrorResponse(errStatus(err), err.Error())
	}

	var decodeErr error
	err = s.DB.Modify(t.Schema().Tag, rec, func(r record.Record) {
		id := r.GetID()
		decodeErr = json.Unmarshal(req.Data, r)
		r.SetID(id)
	})
	if decodeErr != nil {
		return NewErrorResponse(http.StatusBadRequest, decodeErr.Error())
	}
	if err != nil {
		return NewErrorResponse(errStatus(err), err.Error())
	}
	return NewResponse(http.StatusOK, "updated record", rec)
}

type DeleteRequest struct {
	Table string `json:"table"`
	Id    uint64 `json:"id"`
}

func (s *Server) DeleteReqHandler(raw []byte) Response {
	var req DeleteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t := s.findTable(req.Table)
	if t == nil {
		return NewErrorResponse(http.StatusNotFound, "table not found")
	}

	rec, err := t.Get(req.Id)
	if err != nil {
		return NewErrorResponse(errStatus(err), err.Error())
	}
	if err := s.DB.Remove(t.Schema().Tag, rec); err != nil {
		return NewErrorResponse(errStatus(err), err.Error())
	}
	return NewResponse(http.StatusOK, "deleted record", rec)
}

func (s *Server) BeginSessionReqHandler(ctx *ConnCtx) Response {
	if s.DB.IsReadOnly() {
		return NewErrorResponse(http.StatusForbidden, db.ERR_READ_ONLY.Error())
	}
	session := s.DB.StartUndoSession(true)
	ctx.pushSession(session)
	return NewResponse(http.StatusOK, "session started",
		map[string]any{"revision": session.Revision()})
}

func (s *Server) PushSessionReqHandler(ctx *ConnCtx) Response {
	session := ctx.popSession()
	if session == nil {
		return NewErrorResponse(http.StatusPreconditionFailed, "no open session")
	}
	session.Push()
	return NewResponse(http.StatusOK, "session pushed",
		map[string]any{"revision": session.Revision()})
}

func (s *Server) SquashSessionReqHandler(ctx *ConnCtx) Response {
	session := ctx.popSession()
	if session == nil {
		return NewErrorResponse(http.StatusPreconditionFailed, "no open session")
	}
	session.Squash()
	return NewResponse(http.StatusOK, "session squashed",
		map[string]any{"revision": s.DB.Revision()})
}

func (s *Server) RollbackSessionReqHandler(ctx *ConnCtx) Response {
	session := ctx.popSession()
	if session == nil {
		return NewErrorResponse(http.StatusPreconditionFailed, "no open session")
	}
	session.Close()
	return NewResponse(http.StatusOK, "session rolled back",
		map[string]any{"revision": s.DB.Revision()})
}

type CommitRequest struct {
	Through int64 `json:"through"`
}

func (s *Server) CommitReqHandler(ctx *ConnCtx, raw []byte) Response {
	var req CommitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	s.DB.Commit(req.Through)
	return NewResponse(http.StatusOK, "committed",
		map[string]any{"revision": s.DB.Revision()})
}

type TableStats struct {
	Name   string `json:"name"`
	Tag    uint32 `json:"tag"`
	Count  uint64 `json:"count"`
	NextId uint64 `json:"nextId"`
}

func (s *Server) StatsReqHandler() Response {
	tables := []TableStats{}
	for _, t := range s.DB.Tables() {
		tables = append(tables, TableStats{
			Name:   t.Schema().Name,
			Tag:    uint32(t.Schema().Tag),
			Count:  t.Count(),
			NextId: t.NextID(),
		})
	}
	data := map[string]any{
		"revision":  s.DB.Revision(),
		"readOnly":  s.DB.IsReadOnly(),
		"regionId":  s.DB.Arena().RegionID().String(),
		"arenaSize": s.DB.Arena().Size(),
		"tables":    tables,
	}
	return NewResponse(http.StatusOK, "database stats", data)
}
