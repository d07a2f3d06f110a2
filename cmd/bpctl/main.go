package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/tuannm99/novasql/server/bpwire"
)

// Client is a synchronous request/response client for the buffer pool
// admin protocol: one request in flight at a time per connection.
type Client struct {
	conn net.Conn
	mu   sync.Mutex
	id   atomic.Uint64
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c}, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) do(req bpwire.Request) (*bpwire.Response, error) {
	req.ID = c.id.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := bpwire.WriteFrame(c.conn, req); err != nil {
		return nil, err
	}
	var resp bpwire.Response
	if err := bpwire.ReadFrame(c.conn, &resp); err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("bpctl: response id mismatch: got=%d want=%d", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

func (c *Client) Fetch(pageID uint32) (*bpwire.Response, error) {
	return c.do(bpwire.Request{Op: bpwire.OpFetch, PageID: pageID})
}

func (c *Client) NewPage() (*bpwire.Response, error) {
	return c.do(bpwire.Request{Op: bpwire.OpNewPage})
}

func (c *Client) Unpin(pageID uint32, dirty bool, write []byte) (*bpwire.Response, error) {
	return c.do(bpwire.Request{Op: bpwire.OpUnpin, PageID: pageID, Dirty: dirty, Write: write})
}

func (c *Client) Flush(pageID uint32) (*bpwire.Response, error) {
	return c.do(bpwire.Request{Op: bpwire.OpFlush, PageID: pageID})
}

func (c *Client) FlushAll() (*bpwire.Response, error) {
	return c.do(bpwire.Request{Op: bpwire.OpFlushAll})
}

func (c *Client) Delete(pageID uint32) (*bpwire.Response, error) {
	return c.do(bpwire.Request{Op: bpwire.OpDelete, PageID: pageID})
}

func (c *Client) Stats() (*bpwire.Response, error) {
	return c.do(bpwire.Request{Op: bpwire.OpStats})
}

func printHelp() {
	fmt.Println(`commands:
  fetch <page_id>                 pin and print the first 32 bytes of a page
  new                             allocate a page, print its id
  unpin <page_id> <0|1>           unpin, 1 marks dirty
  write <page_id> <hex>           overwrite bytes at offset 0 of a pinned page, unpin it dirty
  flush <page_id>                 flush one page
  flushall                        flush every cached page
  delete <page_id>                delete a page
  stats                           pool occupancy snapshot
  quit | exit                     leave`)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8866", "server address")
	timeout := flag.Duration("timeout", 3*time.Second, "dial timeout")
	flag.Parse()

	cli, err := Dial(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = cli.Close() }()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bpctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("connected to %s\n", *addr)
	fmt.Println("type help for a command list")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		if err := runCommand(cli, fields); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Printf("error: %v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

func runCommand(cli *Client, fields []string) error {
	switch fields[0] {
	case "quit", "exit":
		return errQuit

	case "help":
		printHelp()
		return nil

	case "fetch":
		id, err := parsePageID(fields)
		if err != nil {
			return err
		}
		resp, err := cli.Fetch(id)
		if err != nil {
			return err
		}
		fmt.Printf("page %d: %s...\n", resp.PageID, hex.EncodeToString(first(resp.Data, 32)))
		return nil

	case "new":
		resp, err := cli.NewPage()
		if err != nil {
			return err
		}
		fmt.Printf("allocated page %d\n", resp.PageID)
		return nil

	case "unpin":
		if len(fields) < 3 {
			return fmt.Errorf("usage: unpin <page_id> <0|1>")
		}
		id, err := parsePageID(fields)
		if err != nil {
			return err
		}
		dirty := fields[2] == "1"
		if _, err := cli.Unpin(id, dirty, nil); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "write":
		if len(fields) < 3 {
			return fmt.Errorf("usage: write <page_id> <hex>")
		}
		id, err := parsePageID(fields)
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(fields[2])
		if err != nil {
			return fmt.Errorf("bad hex: %w", err)
		}
		if _, err := cli.Unpin(id, true, data); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "flush":
		id, err := parsePageID(fields)
		if err != nil {
			return err
		}
		if _, err := cli.Flush(id); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "flushall":
		if _, err := cli.FlushAll(); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "delete":
		id, err := parsePageID(fields)
		if err != nil {
			return err
		}
		if _, err := cli.Delete(id); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "stats":
		resp, err := cli.Stats()
		if err != nil {
			return err
		}
		s := resp.Stats
		fmt.Printf("capacity=%d cached=%d free=%d replaceable=%d\n", s.Capacity, s.Cached, s.Free, s.Replaceable)
		return nil

	default:
		return fmt.Errorf("unknown command: %s (try help)", fields[0])
	}
}

func parsePageID(fields []string) (uint32, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("usage: %s <page_id>", fields[0])
	}
	n, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad page id: %w", err)
	}
	return uint32(n), nil
}

func first(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
