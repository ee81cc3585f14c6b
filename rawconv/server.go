package rawconv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulbellamy/ratecounter"
	"golang.org/x/sync/errgroup"

	"github.com/jsorvik/go-fujiraw/log"
)

// PreviewServer pushes conversion progress and the finished JPEG to
// websocket clients. It implements Observer, so it plugs straight
// into a Converter.

type PreviewServer struct {
	frame     []byte
	newFrame  chan bool
	frameLock sync.Mutex

	byteRate   *ratecounter.RateCounter
	status     StatusPayload
	statusLock sync.Mutex

	upgrader       websocket.Upgrader
	streamClients  map[*websocket.Conn]bool
	streamLock     sync.Mutex
	controlClients map[*websocket.Conn]bool
	controlLock    sync.Mutex

	conv *Converter

	eg  *errgroup.Group
	ctx context.Context
	log *log.Children
}

func NewPreviewServer(ctx context.Context, conv *Converter, lg *log.Children) *PreviewServer {
	eg, egCtx := errgroup.WithContext(ctx)

	return &PreviewServer{
		newFrame: make(chan bool, 1),

		byteRate: ratecounter.NewRateCounter(time.Second),

		streamClients:  map[*websocket.Conn]bool{},
		controlClients: map[*websocket.Conn]bool{},

		conv: conv,

		eg:  eg,
		ctx: egCtx,
		log: lg,
	}
}

// Observer

func (s *PreviewServer) Step(name string) {
	s.statusLock.Lock()
	defer s.statusLock.Unlock()
	s.status.Step = name
	s.status.Bytes = 0
}

func (s *PreviewServer) Transfer(n int) {
	s.byteRate.Incr(int64(n))
	s.statusLock.Lock()
	defer s.statusLock.Unlock()
	s.status.Bytes += int64(n)
}

func (s *PreviewServer) Result(jpeg []byte) {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	s.frame = jpeg
	select {
	case s.newFrame <- true:
	default:
	}
}

// HTTP handler / WebSocket

// StatusPayload goes to every control client once a second.
type StatusPayload struct {
	Step         string `json:"step"`
	Bytes        int64  `json:"bytes"`
	BytesPerSec  int64  `json:"bytes_per_sec"`
	PollInterval int    `json:"poll_interval_ms"`
}

// ControlPayload is what control clients may send back.
type ControlPayload struct {
	PollInterval *int `json:"poll_interval_ms,omitempty"`
}

// HandleStream serves finished frames, base64-encoded, one text
// message per conversion.
func (s *PreviewServer) HandleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Preview.Errorf("failed to upgrade: %s", err)
		return
	}
	defer ws.Close()

	s.registerStreamClient(ws)
	for {
		var mes struct{}
		err := ws.ReadJSON(&mes)
		if err != nil {
			s.log.Preview.Debugf("stream client gone: %s", err)
			s.unregisterStreamClient(ws)
			return
		}
	}
}

func (s *PreviewServer) registerStreamClient(c *websocket.Conn) {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	s.streamClients[c] = true
}

func (s *PreviewServer) unregisterStreamClient(c *websocket.Conn) {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	delete(s.streamClients, c)
}

// HandleControl serves the status feed and accepts poll interval
// changes.
func (s *PreviewServer) HandleControl(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Preview.Errorf("failed to upgrade: %s", err)
		return
	}
	defer ws.Close()

	s.registerControlClient(ws)
	for {
		var p ControlPayload
		err := ws.ReadJSON(&p)
		if err != nil {
			s.log.Preview.Debugf("control client gone: %s", err)
			s.unregisterControlClient(ws)
			return
		}

		if p.PollInterval != nil {
			if *p.PollInterval < 100 {
				s.log.Preview.Errorf("invalid poll interval: %d ms", *p.PollInterval)
				continue
			}
			s.conv.SetPollInterval(time.Duration(*p.PollInterval) * time.Millisecond)
			s.log.Preview.Debugf("set poll interval: %d ms", *p.PollInterval)
		}
	}
}

func (s *PreviewServer) registerControlClient(c *websocket.Conn) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	s.controlClients[c] = true
}

func (s *PreviewServer) unregisterControlClient(c *websocket.Conn) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	delete(s.controlClients, c)
}

// Workers

// Run drives the broadcast workers until the context ends.
func (s *PreviewServer) Run() error {
	s.eg.Go(s.workerBroadcastFrame)
	s.eg.Go(s.workerBroadcastStatus)
	return s.eg.Wait()
}

func (s *PreviewServer) copyFrame() []byte {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	return s.frame[:]
}

func (s *PreviewServer) workerBroadcastFrame() error {
	broadcast := func(jpeg []byte) {
		s.streamLock.Lock()
		defer s.streamLock.Unlock()

		b64 := base64.StdEncoding.EncodeToString(jpeg)

		for c := range s.streamClients {
			err := c.WriteMessage(websocket.TextMessage, []byte(b64))
			if err != nil {
				s.log.Preview.Errorf("failed to send a frame: %s", err)
			}
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-s.newFrame:
		}

		jpeg := s.copyFrame()
		if len(jpeg) == 0 {
			continue
		}
		broadcast(jpeg)
	}
}

func (s *PreviewServer) workerBroadcastStatus() error {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	broadcast := func() {
		s.controlLock.Lock()
		s.statusLock.Lock()
		defer s.controlLock.Unlock()
		defer s.statusLock.Unlock()

		s.status.BytesPerSec = s.byteRate.Rate()
		s.status.PollInterval = int(s.conv.tick.Interval() / time.Millisecond)

		for c := range s.controlClients {
			j, err := json.Marshal(s.status)
			if err != nil {
				s.log.Preview.Errorf("failed to marshal payload: %s", err)
				continue
			}
			err = c.WriteMessage(websocket.TextMessage, j)
			if err != nil {
				s.log.Preview.Errorf("failed to send status: %s", err)
			}
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-tick.C:
		}

		broadcast()
	}
}

// Mux returns the HTTP surface: /stream for frames, /control for
// status and settings.
func (s *PreviewServer) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.HandleStream)
	mux.HandleFunc("/control", s.HandleControl)
	return log.HTTPLogHandler(mux)
}
