package bls

import (
	"context"
	"encoding/base64"
	"io/ioutil"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/metrics"
	"github.com/coral-colony/corald/wire"
	"github.com/coral-colony/corald/wire/rejecterr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NodeStatus is what the health endpoint reports about the node
// lifecycle.  StatusFunc is wired by the daemon; a nil func reports a
// bare healthy response.
type NodeStatus struct {
	Phase        string
	Ready        bool
	PeerCount    int64
	ChannelCount int64
}

// StatusFunc supplies the current node status snapshot.
type StatusFunc func() NodeStatus

// Server is the HTTP front of the business logic server.
type Server struct {
	handler *Handler
	nodeID  string
	pubkey  string
	status  StatusFunc

	httpServer *http.Server
}

// NewServer wires the handler behind the HTTP surface.  status may be
// nil.
func NewServer(handler *Handler, nodeID, pubkey string, status StatusFunc) *Server {
	return &Server{
		handler: handler,
		nodeID:  nodeID,
		pubkey:  pubkey,
		status:  status,
	}
}

// packetBody is the wire shape of an inbound packet request.
type packetBody struct {
	Amount        string `json:"amount"`
	Destination   string `json:"destination"`
	Data          string `json:"data"`
	SourceAccount string `json:"sourceAccount,omitempty"`
}

type acceptBody struct {
	Accept      bool            `json:"accept"`
	Fulfillment string          `json:"fulfillment,omitempty"`
	Data        string          `json:"data,omitempty"`
	Metadata    *acceptMetadata `json:"metadata,omitempty"`
}

type acceptMetadata struct {
	EventID  string `json:"eventId"`
	StoredAt int64  `json:"storedAt"`
}

type rejectBody struct {
	Accept   bool            `json:"accept"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	Metadata *rejectMetadata `json:"metadata,omitempty"`
}

type rejectMetadata struct {
	Required string `json:"required"`
	Received string `json:"received"`
}

type healthBody struct {
	Status         string `json:"status"`
	NodeID         string `json:"nodeId"`
	Pubkey         string `json:"pubkey"`
	ILPAddress     string `json:"ilpAddress"`
	Timestamp      int64  `json:"timestamp"`
	BootstrapPhase string `json:"bootstrapPhase,omitempty"`
	PeerCount      *int64 `json:"peerCount,omitempty"`
	ChannelCount   *int64 `json:"channelCount,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	raw, errr := json.Marshal(body)
	if errr != nil {
		log.Errorf("Failed to marshal response body: %v", errr)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, errr := w.Write(raw); errr != nil {
		log.Debugf("Failed to write response: %v", errr)
	}
}

func (s *Server) handlePacket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw, errr := ioutil.ReadAll(r.Body)
	if errr != nil {
		writeReject(w, rejecterr.ErrToReject(
			rejecterr.ErrBadRequest.New("reading request body", nil)))
		return
	}
	var body packetBody
	if errr := json.Unmarshal(raw, &body); errr != nil {
		writeReject(w, rejecterr.ErrToReject(
			rejecterr.ErrBadRequest.New("request body is not json", nil)))
		return
	}
	data, errr := base64.StdEncoding.DecodeString(body.Data)
	if errr != nil {
		writeReject(w, rejecterr.ErrToReject(
			rejecterr.ErrBadRequest.New("data is not base64", nil)))
		return
	}

	reply := s.handler.HandlePacket(r.Context(), &wire.Packet{
		Amount:        body.Amount,
		Destination:   body.Destination,
		Data:          data,
		SourceAccount: body.SourceAccount,
	})
	if reply.Reject != nil {
		writeReject(w, reply.Reject)
		return
	}

	out := acceptBody{Accept: true}
	if len(reply.Accept.Fulfillment) > 0 {
		out.Fulfillment = base64.StdEncoding.EncodeToString(reply.Accept.Fulfillment)
	}
	if len(reply.Accept.Data) > 0 {
		out.Data = base64.StdEncoding.EncodeToString(reply.Accept.Data)
	}
	if reply.Accept.EventID != "" {
		out.Metadata = &acceptMetadata{
			EventID:  reply.Accept.EventID,
			StoredAt: reply.Accept.StoredAt,
		}
	}
	writeJSON(w, http.StatusOK, &out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Status:     "healthy",
		NodeID:     s.nodeID,
		Pubkey:     s.pubkey,
		ILPAddress: s.handler.cfg.ILPAddress,
		Timestamp:  time.Now().Unix(),
	}
	if s.status != nil {
		st := s.status()
		body.BootstrapPhase = st.Phase
		// Counters are only meaningful once bootstrap completed.
		if st.Ready {
			body.PeerCount = &st.PeerCount
			body.ChannelCount = &st.ChannelCount
		}
	}
	writeJSON(w, http.StatusOK, &body)
}

// Mux builds the request router.  Exposed for tests.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/handle-packet", s.handlePacket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// ListenAndServe blocks serving HTTP on addr until Shutdown is called
// or the listener fails.
func (s *Server) ListenAndServe(addr string) er.R {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Infof("Business logic server listening on %s", addr)
	if errr := s.httpServer.ListenAndServe(); errr != nil && errr != http.ErrServerClosed {
		return er.E(errr)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) er.R {
	if s.httpServer == nil {
		return nil
	}
	if errr := s.httpServer.Shutdown(ctx); errr != nil {
		return er.E(errr)
	}
	return nil
}

func writeReject(w http.ResponseWriter, rej *wire.Reject) {
	body := rejectBody{
		Code:    rej.Code,
		Message: rej.Message,
	}
	if rej.Required != "" || rej.Received != "" {
		body.Metadata = &rejectMetadata{
			Required: rej.Required,
			Received: rej.Received,
		}
	}
	writeJSON(w, rejecterr.HTTPStatus(rej.Code), &body)
}
