// Package proxy is the client side of the object-store proxy. A Link keeps
// three kinds of sub-connection to the same host: a persistent index
// connection answering full index pulls, a persistent push connection
// streaming new-file announcements, and short-lived download connections,
// one per requested file. Downloads run on a small worker pool. Every
// sub-connection speaks the framed JSON protocol implemented by Conn.
package proxy

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klump3n/platt-backend-sub000/config"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/index"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/pkg/retry"
	"github.com/Klump3n/platt-backend-sub000/pkg/worker"
	"github.com/Klump3n/platt-backend-sub000/service"
)

const (
	requestQueueSize = 1024
	answerQueueSize  = 256
	newFileQueueSize = 1024

	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	downloadTimeout  = 100 * time.Second
	mismatchAttempts = 3

	drainInterval  = time.Second
	drainSightings = 3

	watchdogInterval = 500 * time.Millisecond
)

// FileRequest names one object to download.
type FileRequest struct {
	Namespace string
	Key       string
}

// Answer is the outcome of one download. Err is set when the object could
// not be delivered.
type Answer struct {
	Namespace string
	Key       string
	Contents  []byte
	Sha1sum   string
	Err       error

	seen int
}

type indexResult struct {
	tree index.Tree
	err  error
}

type indexCall struct {
	ctx   context.Context
	reply chan indexResult
}

// Link owns every sub-connection to the proxy.
type Link struct {
	*service.BaseService

	addr    string
	cfg     config.ProxyConfig
	logger  *slog.Logger
	metrics *linkMetrics
	dialer  net.Dialer

	indexCalls chan *indexCall
	downloads  *worker.Pool[FileRequest]
	answers    chan *Answer
	newFiles   chan index.NewFile

	indexUp atomic.Bool
	pushUp  atomic.Bool

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	closed   bool
	cancel   context.CancelFunc
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewLink creates a link to the proxy at addr (host:port). Nothing is dialed
// before Start.
func NewLink(addr string, cfg config.ProxyConfig, registry *metric.MetricsRegistry, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DownloadAttempts < 1 {
		cfg.DownloadAttempts = 3
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3500 * time.Millisecond
	}
	if cfg.DownloadWorkers < 1 {
		cfg.DownloadWorkers = 4
	}

	l := &Link{
		addr:       addr,
		cfg:        cfg,
		logger:     logger.With("component", "proxy", "addr", addr),
		metrics:    newLinkMetrics(registry),
		dialer:     net.Dialer{Timeout: dialTimeout},
		indexCalls: make(chan *indexCall),
		answers:    make(chan *Answer, answerQueueSize),
		newFiles:   make(chan index.NewFile, newFileQueueSize),
		conns:      make(map[*Conn]struct{}),
		shutdown:   make(chan struct{}),
	}
	l.downloads = worker.NewPool(cfg.DownloadWorkers, requestQueueSize, l.serveDownload,
		worker.WithMetrics[FileRequest](registry, "proxy_downloads"))
	l.BaseService = service.NewBaseService("proxy-link",
		service.WithLogger(logger),
		service.WithMetrics(registry),
		service.WithHealthCheck(l.check))
	return l
}

// Addr returns the proxy address.
func (l *Link) Addr() string { return l.addr }

// Active reports whether both the index and the push sub-connections are up.
func (l *Link) Active() bool {
	return l.indexUp.Load() && l.pushUp.Load()
}

// NewFiles delivers push frames in arrival order.
func (l *Link) NewFiles() <-chan index.NewFile { return l.newFiles }

// Answers delivers download outcomes.
func (l *Link) Answers() <-chan *Answer { return l.answers }

// Start launches the sub-connection loops. It does not wait for the proxy.
func (l *Link) Start(ctx context.Context) error {
	if err := l.Starting(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	if err := l.downloads.Start(loopCtx); err != nil {
		cancel()
		l.Failed(err)
		return errors.WrapFatal(err, "Link", "Start", "start downloads")
	}

	l.wg.Add(4)
	go l.persistent(loopCtx, RoleIndex, &l.indexUp, l.serveIndex)
	go l.persistent(loopCtx, RolePush, &l.pushUp, l.servePush)
	go l.drainLoop(loopCtx)
	go l.watchdog(loopCtx)

	l.Running()
	l.logger.Info("Proxy link started")
	return nil
}

// Stop sets the shutdown latch, closes every open sub-connection so that
// blocked readers observe end-of-stream, and waits for the loops.
func (l *Link) Stop(timeout time.Duration) error {
	if !l.Stopping() {
		return nil
	}

	l.mu.Lock()
	l.closed = true
	close(l.shutdown)
	cancel := l.cancel
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.conns = make(map[*Conn]struct{})
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		if err := l.downloads.Stop(timeout); err != nil {
			l.logger.Warn("Downloads still running at shutdown", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		l.indexUp.Store(false)
		l.pushUp.Store(false)
		l.metrics.setActive(false)
		l.Stopped()
		l.logger.Info("Proxy link stopped")
		return nil
	case <-time.After(timeout):
		err := errors.WrapTransient(errors.ErrShuttingDown, "Link", "Stop", "wait for sub-connections")
		l.Failed(err)
		return err
	}
}

// Close stops the link with a default timeout.
func (l *Link) Close() error {
	return l.Stop(5 * time.Second)
}

// RequestIndex pulls the full index over the index sub-connection. It fails
// with ErrProxyTimeout when ctx ends first.
func (l *Link) RequestIndex(ctx context.Context) (index.Tree, error) {
	call := &indexCall{ctx: ctx, reply: make(chan indexResult, 1)}

	select {
	case l.indexCalls <- call:
	case <-ctx.Done():
		return nil, l.timeout(ctx)
	case <-l.shutdown:
		return nil, errors.WrapTransient(errors.ErrShuttingDown, "Link", "RequestIndex", "enqueue")
	}

	select {
	case res := <-call.reply:
		return res.tree, res.err
	case <-ctx.Done():
		return nil, l.timeout(ctx)
	case <-l.shutdown:
		return nil, errors.WrapTransient(errors.ErrShuttingDown, "Link", "RequestIndex", "await index")
	}
}

func (l *Link) timeout(ctx context.Context) error {
	return errors.WrapTransient(errors.Kind(errors.ErrProxyTimeout, "index: %v", ctx.Err()),
		"Link", "RequestIndex", "await index")
}

// Request enqueues a download. The outcome arrives on Answers.
func (l *Link) Request(namespace, key string) error {
	select {
	case <-l.shutdown:
		return errors.WrapTransient(errors.ErrShuttingDown, "Link", "Request", "enqueue download")
	default:
	}
	if err := l.downloads.Submit(FileRequest{Namespace: namespace, Key: key}); err != nil {
		return errors.WrapTransient(err, "Link", "Request", "enqueue download")
	}
	return nil
}

// open dials one sub-connection and sends the role handshake.
func (l *Link) open(ctx context.Context, role string) (*Conn, error) {
	nc, err := l.dialer.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return nil, errors.WrapTransient(err, "Link", "open", "dial "+role)
	}
	c := &Conn{conn: nc, metrics: l.metrics, role: role}
	if !l.track(c) {
		_ = nc.Close()
		return nil, retry.NonRetryable(errors.WrapTransient(errors.ErrShuttingDown, "Link", "open", role))
	}

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := c.Send(hctx, handshake{Task: role}); err != nil {
		l.release(c)
		return nil, errors.Wrap(err, "Link", "open", "handshake "+role)
	}
	return c, nil
}

func (l *Link) track(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[c] = struct{}{}
	return true
}

func (l *Link) release(c *Conn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
	_ = c.Close()
}

// persistent keeps one long-lived sub-connection open, re-establishing it
// after the reconnect delay whenever serve returns.
func (l *Link) persistent(ctx context.Context, role string, up *atomic.Bool, serve func(context.Context, *Conn) error) {
	defer l.wg.Done()

	cfg := retry.Reconnect(l.cfg.ReconnectDelay)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		l.metrics.reconnect(role)
		l.logger.Warn("Proxy sub-connection down, reconnecting",
			"role", role, "attempt", attempt, "delay", delay, "error", err)
	}

	_ = retry.Do(ctx, cfg, func() error {
		c, err := l.open(ctx, role)
		if err != nil {
			return err
		}
		up.Store(true)
		l.logger.Debug("Proxy sub-connection up", "role", role)

		err = serve(ctx, c)

		up.Store(false)
		l.release(c)
		if ctx.Err() != nil {
			return retry.NonRetryable(ctx.Err())
		}
		return err
	})
}

func (l *Link) serveIndex(ctx context.Context, c *Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case call := <-l.indexCalls:
			tree, err := l.pullIndex(call.ctx, c)
			if err != nil && call.ctx.Err() != nil {
				err = l.timeout(call.ctx)
			}
			call.reply <- indexResult{tree: tree, err: err}
			if err != nil && !errors.IsInvalid(err) {
				// the frame exchange was interrupted; start over on a fresh socket
				return err
			}
		}
	}
}

func (l *Link) pullIndex(ctx context.Context, c *Conn) (index.Tree, error) {
	if err := c.Send(ctx, indexRequest{Todo: "index"}); err != nil {
		return nil, err
	}
	var reply indexReply
	if err := c.Recv(ctx, &reply); err != nil {
		return nil, err
	}
	if len(reply.Index) == 0 {
		return nil, errors.WrapInvalid(errors.Kind(errors.ErrUnexpectedReply, "reply without index"),
			"Link", "pullIndex", "decode index")
	}
	tree, err := index.FromJSON(reply.Index)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Link", "pullIndex", "decode index")
	}
	return tree, nil
}

func (l *Link) servePush(ctx context.Context, c *Conn) error {
	for {
		var frame pushFrame
		if err := c.Recv(ctx, &frame); err != nil {
			return err
		}
		if frame.NewFile == nil {
			l.logger.Debug("Ignoring push frame without new_file")
			continue
		}
		select {
		case l.newFiles <- *frame.NewFile:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// serveDownload runs on the download pool; a slow object holds only its
// own worker.
func (l *Link) serveDownload(ctx context.Context, req FileRequest) error {
	answer := l.download(ctx, req)
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l.answers <- answer:
		return answer.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// download fetches one object on fresh sub-connections. An answer for a
// different object is discarded and the request retried.
func (l *Link) download(ctx context.Context, req FileRequest) *Answer {
	answer := &Answer{Namespace: req.Namespace, Key: req.Key}

	for attempt := 1; attempt <= mismatchAttempts; attempt++ {
		var c *Conn
		err := retry.Do(ctx, retry.Fixed(l.cfg.DownloadAttempts, l.cfg.ReconnectDelay), func() error {
			var err error
			c, err = l.open(ctx, RoleDownload)
			if err != nil {
				l.metrics.reconnect(RoleDownload)
			}
			return err
		})
		if err != nil {
			l.metrics.download("unavailable")
			answer.Err = errors.WrapTransient(
				errors.Kind(errors.ErrProxyUnavailable, "%s/%s: %v", req.Namespace, req.Key, err),
				"Link", "download", "open download sub-connection")
			return answer
		}

		body, err := l.fetch(ctx, c, req)
		l.release(c)
		if err != nil {
			l.logger.Warn("Download failed", "namespace", req.Namespace, "key", req.Key,
				"attempt", attempt, "error", err)
			continue
		}
		if body.Namespace != req.Namespace || body.Object != req.Key {
			l.metrics.download("mismatch")
			l.logger.Warn("Discarding answer for a different object",
				"requested", req.Namespace+"/"+req.Key, "received", body.Namespace+"/"+body.Object)
			continue
		}
		contents, err := base64.StdEncoding.DecodeString(body.Contents)
		if err != nil {
			l.logger.Warn("Discarding answer with bad contents", "key", req.Key, "error", err)
			continue
		}

		answer.Contents = contents
		answer.Sha1sum = body.Tags.Sha1sum
		if answer.Sha1sum == "" {
			sum := sha1.Sum(contents)
			answer.Sha1sum = hex.EncodeToString(sum[:])
		}
		l.metrics.download("ok")
		return answer
	}

	l.metrics.download("failed")
	answer.Err = errors.WrapInvalid(
		errors.Kind(errors.ErrMissingObject, "%s/%s not delivered after %d attempts",
			req.Namespace, req.Key, mismatchAttempts),
		"Link", "download", "receive file")
	return answer
}

func (l *Link) fetch(ctx context.Context, c *Conn, req FileRequest) (*fileBody, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	if err := c.Send(ctx, fileRequest{RequestedFile: fileRef{Namespace: req.Namespace, Key: req.Key}}); err != nil {
		return nil, err
	}
	var reply fileReply
	if err := c.Recv(ctx, &reply); err != nil {
		return nil, err
	}
	if reply.FileRequest == nil {
		return nil, errors.WrapInvalid(errors.Kind(errors.ErrUnexpectedReply, "reply without file_request"),
			"Link", "fetch", "decode reply")
	}
	return reply.FileRequest, nil
}

// drainLoop drops answers that sit in the queue unconsumed for three
// consecutive sweeps.
func (l *Link) drainLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drainOnce()
		}
	}
}

func (l *Link) drainOnce() {
	n := len(l.answers)
	for i := 0; i < n; i++ {
		var a *Answer
		select {
		case a = <-l.answers:
		default:
			return
		}
		a.seen++
		if a.seen >= drainSightings {
			l.metrics.drop()
			l.logger.Warn("Dropping unconsumed download answer", "namespace", a.Namespace, "key", a.Key)
			continue
		}
		select {
		case l.answers <- a:
		default:
			l.metrics.drop()
		}
	}
}

func (l *Link) watchdog(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	last := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := l.Active()
			if active != last {
				l.metrics.setActive(active)
				if active {
					l.logger.Info("Proxy link active")
				} else {
					l.logger.Warn("Proxy link inactive")
				}
				last = active
			}
		}
	}
}

func (l *Link) check() health.Status {
	if l.Active() {
		return health.NewHealthy("", "Index and push sub-connections up")
	}
	return health.NewDegraded("", "Waiting for index and push sub-connections")
}
