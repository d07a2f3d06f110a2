package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tuannm99/novasql/internal"
	"github.com/tuannm99/novasql/internal/bufferpool"
	locking "github.com/tuannm99/novasql/internal/lock"
	"github.com/tuannm99/novasql/internal/storage"
	"github.com/tuannm99/novasql/internal/wal"
	"github.com/tuannm99/novasql/server/bpwire"
)

type serverConfig struct {
	addr    string
	workdir string
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "novasql.yaml", "Path to novasql yaml config")
	flag.Parse()

	cfg, err := internal.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	addr := os.Getenv("NOVASQL_ADDR")
	if addr == "" {
		port := cfg.Server.Port
		if port == 0 {
			port = 8866
		}
		addr = fmt.Sprintf("127.0.0.1:%d", port)
	}

	workdir := cfg.Storage.Dir
	if workdir == "" {
		workdir = "./data"
	}
	if err := os.MkdirAll(workdir, storage.FileMode0755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	poolSize := cfg.BufferPool.PoolSize
	if poolSize <= 0 {
		poolSize = bufferpool.DefaultCapacity
	}

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: workdir, Base: "Base"}

	walDir := filepath.Join(workdir, "wal")
	walMgr, err := wal.Open(walDir)
	if err != nil {
		log.Fatalf("open wal: %v", err)
	}
	defer func() { _ = walMgr.Close() }()

	pool, err := bufferpool.NewPoolFromFileSet(sm, fs, walMgr, poolSize)
	if err != nil {
		log.Fatalf("init buffer pool: %v", err)
	}
	defer func() { _ = pool.Close() }()

	if err := run(serverConfig{addr: addr, workdir: workdir}, pool); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(sc serverConfig, pool *bufferpool.Pool) error {
	ln, err := net.Listen("tcp", sc.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = ln.Close() }()

	slog.Info("bufferpool admin server listening", "addr", sc.addr, "workdir", sc.workdir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// sessions tracks live connections so shutdown can wait for them to
	// drain instead of severing in-flight requests.
	sessions := locking.NewRefCount()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				waitForSessions(sessions)
				if err := pool.FlushAll(); err != nil {
					slog.Error("flush on shutdown", "err", err)
				}
				return nil
			default:
			}
			slog.Error("accept", "err", err)
			continue
		}
		sessions.Inc()
		go func() {
			defer func() {
				if _, err := sessions.TryDec(); err != nil {
					slog.Error("session refcount", "err", err)
				}
			}()
			handleConn(ctx, conn, pool)
		}()
	}
}

func waitForSessions(sessions *locking.RefCount) {
	deadline := time.Now().Add(5 * time.Second)
	for sessions.Get() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

func handleConn(ctx context.Context, conn net.Conn, pool *bufferpool.Pool) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Time{})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req bpwire.Request
		if err := bpwire.ReadFrame(conn, &req); err != nil {
			return
		}

		resp := dispatch(pool, req)
		if err := bpwire.WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func dispatch(pool *bufferpool.Pool, req bpwire.Request) bpwire.Response {
	resp := bpwire.Response{ID: req.ID}

	switch req.Op {
	case bpwire.OpFetch:
		page, err := pool.Fetch(req.PageID)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.PageID = page.PageID()
		resp.Data = page.Buf

	case bpwire.OpNewPage:
		id, page, err := pool.NewPage()
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.PageID = id
		resp.Data = page.Buf

	case bpwire.OpUnpin:
		if len(req.Write) > 0 {
			if page, err := pool.Fetch(req.PageID); err == nil {
				copy(page.Buf, req.Write)
				_ = pool.Unpin(req.PageID, false) // undo the extra pin Fetch added
			}
		}
		if err := pool.Unpin(req.PageID, req.Dirty); err != nil {
			resp.Error = err.Error()
		}

	case bpwire.OpFlush:
		if err := pool.Flush(req.PageID); err != nil {
			resp.Error = err.Error()
		}

	case bpwire.OpFlushAll:
		if err := pool.FlushAll(); err != nil {
			resp.Error = err.Error()
		}

	case bpwire.OpDelete:
		if err := pool.Delete(req.PageID); err != nil {
			resp.Error = err.Error()
		}

	case bpwire.OpStats:
		s := pool.Stats()
		resp.Stats = &bpwire.StatsReply{
			Capacity:    s.Capacity,
			Cached:      s.Cached,
			Free:        s.Free,
			Replaceable: s.Replaceable,
		}

	default:
		resp.Error = fmt.Sprintf("unknown op: %q", req.Op)
	}

	return resp
}
