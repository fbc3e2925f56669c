package router

import (
	"net/http"

	padHandler "padsync/internal/pad"
	"padsync/internal/pad/service"
	"padsync/middleware"
	"padsync/socket"
)

func Setup(svc *service.PadService, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	// Change feed
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket.ServeWs(hub, w, r, middleware.SessionID(r))
	})
	mux.Handle("/ws", middleware.SessionMiddleware(wsHandler))

	// REST API
	h := padHandler.NewPadHandler(svc)
	sess := middleware.SessionMiddleware

	mux.Handle("/api/pads/open", sess(http.HandlerFunc(h.OpenDoc)))
	mux.Handle("/api/pads/get", sess(http.HandlerFunc(h.GetDoc)))
	mux.Handle("/api/pads/save", sess(http.HandlerFunc(h.SaveDoc)))
	mux.Handle("/api/pads/subpads", sess(http.HandlerFunc(h.ListSubpads)))
	mux.Handle("/api/pads/password", sess(http.HandlerFunc(h.SetPassword)))
	mux.Handle("/api/pads/unlock", sess(http.HandlerFunc(h.Unlock)))
	mux.Handle("/api/cursors/publish", sess(http.HandlerFunc(h.PublishCursor)))
	mux.Handle("/api/cursors/retract", sess(http.HandlerFunc(h.RetractCursor)))
	mux.Handle("/api/cursors", sess(http.HandlerFunc(h.ListCursors)))

	return middleware.CORSMiddleware(mux)
}
