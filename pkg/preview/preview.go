// Package preview serves obfuscated frames over HTTP, so that a person can
// check what the pipeline is doing.
package preview

import (
	"net/http"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/veil/pkg/config"
	"github.com/cyclopcam/veil/pkg/obfuscate"
	"github.com/cyclopcam/veil/pkg/pipeline"
	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const JPEGQuality = 85

// Number of frames that a slow websocket client may fall behind before we
// start dropping frames for it.
const watcherBacklog = 2

// Server owns an Obfuscator, and serializes access to it
type Server struct {
	Log logs.Log

	obfuscator *pipeline.Obfuscator
	router     *httprouter.Router
	wsUpgrader websocket.Upgrader

	processLock sync.Mutex // Held while a frame is being processed

	lock     sync.Mutex
	latest   []byte // Last output frame, as JPEG
	watchers map[chan []byte]bool
}

func NewServer(log logs.Log, obfuscator *pipeline.Obfuscator) *Server {
	s := &Server{
		Log:        log,
		obfuscator: obfuscator,
		router:     httprouter.New(),
		watchers:   map[chan []byte]bool{},
	}
	route := func(method, path string, handle httprouter.Handle) {
		www.Handle(s.Log, s.router, method, path, handle)
	}
	route("GET", "/api/frame.jpg", s.httpFrame)
	route("GET", "/api/stats", s.httpStats)
	route("POST", "/api/policy", s.httpSetPolicy)
	s.router.GET("/api/stream", s.httpStream)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the HTTP server fails.
// addr example: ":8080"
func (s *Server) ListenAndServe(addr string) error {
	s.Log.Infof("Preview listening on %v", addr)
	return http.ListenAndServe(addr, s.router)
}

// Submit runs one frame through the pipeline, and publishes the result.
// Frames must be submitted in temporal order.
func (s *Server) Submit(frame *cimg.Image) (*cimg.Image, error) {
	s.processLock.Lock()
	out := s.obfuscator.Process(frame)
	s.processLock.Unlock()

	jpg, err := cimg.Compress(out, cimg.MakeCompressParams(cimg.Sampling420, JPEGQuality, 0))
	if err != nil {
		return out, err
	}

	s.lock.Lock()
	s.latest = jpg
	for ch := range s.watchers {
		if len(ch) >= cap(ch) {
			s.Log.Warnf("Preview watcher is falling behind. Dropping frame")
			continue
		}
		ch <- jpg
	}
	s.lock.Unlock()
	return out, nil
}

func (s *Server) addWatcher() chan []byte {
	ch := make(chan []byte, watcherBacklog)
	s.lock.Lock()
	s.watchers[ch] = true
	s.lock.Unlock()
	return ch
}

func (s *Server) removeWatcher(ch chan []byte) {
	s.lock.Lock()
	delete(s.watchers, ch)
	s.lock.Unlock()
}

// Fetch the last obfuscated frame.
// Example: curl -o frame.jpg localhost:8080/api/frame.jpg
func (s *Server) httpFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	s.lock.Lock()
	img := s.latest
	s.lock.Unlock()
	if img == nil {
		www.PanicBadRequestf("No frame available yet")
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(img)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type response struct {
		pipeline.Stats
		Cache string `json:"cache"`
	}
	s.processLock.Lock()
	cache := s.obfuscator.CacheState().String()
	s.processLock.Unlock()
	www.CacheNever(w)
	www.SendJSON(w, &response{
		Stats: s.obfuscator.Stats(),
		Cache: cache,
	})
}

// Replace the obfuscation policy. The body is a JSON object of class name to type.
// Example: curl -d '{"person":"blurring"}' localhost:8080/api/policy
func (s *Server) httpSetPolicy(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	byName := map[string]obfuscate.Type{}
	www.ReadJSON(w, r, &byName, 1024*1024)
	policy, err := config.ResolvePolicy(s.obfuscator.Classes(), byName)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	s.processLock.Lock()
	err = s.obfuscator.SetPolicy(policy)
	s.processLock.Unlock()
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendOK(w)
}

// Stream every obfuscated frame as a binary JPEG websocket message
func (s *Server) httpStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpStream websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	ch := s.addWatcher()
	defer s.removeWatcher(ch)

	// The reader notices when the client goes away
	closed := make(chan bool)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case jpg := <-ch:
			if err := c.WriteMessage(websocket.BinaryMessage, jpg); err != nil {
				return
			}
		}
	}
}
