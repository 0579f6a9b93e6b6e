package ws

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/base/structs/set"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/kernel"
	"github.com/gorilla/websocket"
)

/**
  *  @author tryao
  *  @date 2022/03/22 11:32
**/

// Kernel 是websocket服务端
type Kernel struct {
	kernel.Base
	addr        string
	maxMsgLen   uint32
	httpTimeout time.Duration
	//证书路径
	certFile string
	//密钥路径
	keyFile  string
	authFunc func(*http.Request) (bool, any)

	ln         net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	conns      *set.Set[*websocket.Conn]
	mutexConns sync.Mutex
	wg         sync.WaitGroup
}

var _ network.Kernel = (*Kernel)(nil)

type Option func(*Kernel)

func NewKernel(addr string, options ...Option) *Kernel {
	k := &Kernel{
		addr:        addr,
		maxMsgLen:   defaultMaxMsgLen,
		httpTimeout: 10 * time.Second,
	}
	for _, option := range options {
		option(k)
	}
	k.Base.Init()
	return k
}

func WithMaxMsgLen(num uint32) Option {
	return func(k *Kernel) {
		k.maxMsgLen = num
	}
}

func WithHttpTimeout(duration time.Duration) Option {
	return func(k *Kernel) {
		k.httpTimeout = duration
	}
}

func WithHttpsCert(cert, key string) Option {
	return func(k *Kernel) {
		k.certFile = cert
		k.keyFile = key
	}
}

// WithAuthFunc 返回的userData可以通过端点的UserData获取
func WithAuthFunc(authFunc func(*http.Request) (bool, any)) Option {
	return func(k *Kernel) {
		k.authFunc = authFunc
	}
}

func getRealIP(req *http.Request) net.Addr {
	ip := req.Header.Get("X-FORWARDED-FOR")
	if ip == "" {
		ip = req.Header.Get("X-REAL-IP")
	}
	if ip != "" {
		ip = strings.Split(ip, ",")[0]
	} else {
		ip, _, _ = net.SplitHostPort(req.RemoteAddr)
	}
	q := net.ParseIP(ip)
	addr := &net.IPAddr{IP: q}
	return addr
}

func (k *Kernel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var (
		ok       bool
		userData any
	)
	if k.authFunc != nil {
		if ok, userData = k.authFunc(r); !ok {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}
	conn, err := k.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("upgrade error: %v", err)
		return
	}

	k.wg.Add(1)
	defer k.wg.Done()

	k.mutexConns.Lock()
	if k.conns == nil {
		k.mutexConns.Unlock()
		_ = conn.Close()
		return
	}
	k.conns.AddItem(conn)
	k.mutexConns.Unlock()

	wsConn := newWSConn(conn, k.maxMsgLen)
	wsConn.realAddr = getRealIP(r)
	ep := &endpoint{Conn: wsConn, id: k.NextEndpointID(), kernel: k, userData: userData}
	k.AddEndpoint(ep)
	for {
		data, err := wsConn.ReadMsg()
		if err != nil {
			log.Debug("ws endpoint %s read: %v", ep.Address(), err)
			break
		}
		k.Deliver(ep, data)
	}

	// cleanup
	_ = ep.Close()
	k.mutexConns.Lock()
	if k.conns != nil {
		k.conns.RemoveItem(conn)
	}
	k.mutexConns.Unlock()
}

func (k *Kernel) Initialize() error {
	if k.ln != nil {
		return fmt.Errorf("%w: ws kernel already listening on %v", network.ErrIllegalState, k.ln.Addr())
	}
	ln, err := net.Listen("tcp", k.addr)
	if err != nil {
		return fmt.Errorf("fail to start ws kernel: %w", err)
	}

	if k.maxMsgLen <= 0 {
		k.maxMsgLen = defaultMaxMsgLen
		log.Info("invalid MaxMsgLen, reset to %v", k.maxMsgLen)
	}
	if k.httpTimeout <= 0 {
		k.httpTimeout = 10 * time.Second
		log.Info("invalid HTTPTimeout, reset to %v", k.httpTimeout)
	}

	if k.certFile != "" || k.keyFile != "" {
		config := &tls.Config{}
		config.NextProtos = []string{"http/1.1"}

		config.Certificates = make([]tls.Certificate, 1)
		config.Certificates[0], err = tls.LoadX509KeyPair(k.certFile, k.keyFile)
		if err != nil {
			_ = ln.Close()
			return err
		}

		ln = tls.NewListener(ln, config)
	}

	k.ln = ln
	k.conns = set.NewSet[*websocket.Conn]()
	k.upgrader = websocket.Upgrader{
		HandshakeTimeout: k.httpTimeout,
		CheckOrigin:      func(_ *http.Request) bool { return true },
	}
	// 升级之后的长连接不受http超时限制
	k.httpServer = &http.Server{
		Handler:           k,
		ReadHeaderTimeout: k.httpTimeout,
		MaxHeaderBytes:    1024,
	}

	go func() {
		if err := k.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("websocket kernel stopped: %v", err)
		}
	}()
	log.Info("ws kernel listening on %v", ln.Addr())
	return nil
}

func (k *Kernel) Addr() net.Addr {
	if k.ln == nil {
		return nil
	}
	return k.ln.Addr()
}

func (k *Kernel) Broadcast(filter network.Filter[network.Endpoint], data []byte, _ bool) error {
	return k.Base.Broadcast(filter, data)
}

func (k *Kernel) Terminate() error {
	if k.httpServer != nil {
		_ = k.httpServer.Close()
	}
	err := k.Shutdown()

	k.mutexConns.Lock()
	if k.conns != nil {
		k.conns.ForEach(func(conn *websocket.Conn) {
			_ = conn.Close()
		})
		k.conns = nil
	}
	k.mutexConns.Unlock()

	k.wg.Wait()
	return err
}

type endpoint struct {
	*Conn
	id       uint64
	kernel   *Kernel
	userData any
}

func (e *endpoint) ID() uint64 {
	return e.id
}

func (e *endpoint) Address() string {
	return "ws://" + e.RemoteAddr().String()
}

func (e *endpoint) UserData() any {
	return e.userData
}

func (e *endpoint) Send(data []byte) error {
	return e.WriteMsg(data)
}

func (e *endpoint) Close() error {
	e.Conn.Close()
	e.kernel.RemoveEndpoint(e)
	return nil
}

func (e *endpoint) IsConnected() bool {
	return !e.IsClosed()
}

func (e *endpoint) String() string {
	return e.Address()
}
