package redis

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"solagent/internal/storage"
)

func TestHistoryRepositoryRoundTrip(t *testing.T) {
	srv := newFakeRedis(t)
	ctx := context.Background()

	repo, err := NewHistoryRepository(ctx, Config{Address: srv.addr(), Prefix: "test:", Capacity: 2})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer repo.Close()

	for i, task := range []string{"get_balance", "get_tps", "get_balance"} {
		rec := storage.Record{ID: strconv.Itoa(i), Task: task, Result: fmt.Sprintf("result-%d", i), CreatedAt: int64(i)}
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	list, err := repo.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "2" || list[1].ID != "1" {
		t.Fatalf("expected capped newest-first list, got %+v", list)
	}

	latest, ok, err := repo.Latest(ctx, "get_balance")
	if err != nil || !ok || latest.Result != "result-2" {
		t.Fatalf("unexpected latest %+v %v %v", latest, ok, err)
	}
	if _, ok, err := repo.Latest(ctx, "stake_sol"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if got := srv.listLen("test:executions"); got != 2 {
		t.Fatalf("unexpected list key length %d", got)
	}
}

func TestNewHistoryRepositoryRequiresAddress(t *testing.T) {
	if _, err := NewHistoryRepository(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without address")
	}
}

// fakeRedis speaks enough RESP2 for the commands the repository issues.
type fakeRedis struct {
	ln     net.Listener
	mu     sync.Mutex
	lists  map[string][]string
	hashes map[string]map[string]string
}

func newFakeRedis(t *testing.T) *fakeRedis {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeRedis{ln: ln, lists: map[string][]string{}, hashes: map[string]map[string]string{}}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeRedis) addr() string { return f.ln.Addr().String() }

func (f *fakeRedis) listLen(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists[key])
}

func (f *fakeRedis) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, f.handle(args)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func (f *fakeRedis) handle(args []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "CLIENT", "SELECT":
		return "+OK\r\n"
	case "LPUSH":
		list := f.lists[args[1]]
		for _, v := range args[2:] {
			list = append([]string{v}, list...)
		}
		f.lists[args[1]] = list
		return fmt.Sprintf(":%d\r\n", len(list))
	case "LTRIM":
		list := f.lists[args[1]]
		start, stop := bounds(len(list), args[2], args[3])
		if start > stop {
			f.lists[args[1]] = nil
		} else {
			f.lists[args[1]] = append([]string(nil), list[start:stop+1]...)
		}
		return "+OK\r\n"
	case "LRANGE":
		list := f.lists[args[1]]
		start, stop := bounds(len(list), args[2], args[3])
		var b strings.Builder
		if start > stop {
			return "*0\r\n"
		}
		fmt.Fprintf(&b, "*%d\r\n", stop-start+1)
		for _, v := range list[start : stop+1] {
			fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(v), v)
		}
		return b.String()
	case "HSET":
		h := f.hashes[args[1]]
		if h == nil {
			h = map[string]string{}
			f.hashes[args[1]] = h
		}
		added := 0
		for i := 2; i+1 < len(args); i += 2 {
			if _, ok := h[args[i]]; !ok {
				added++
			}
			h[args[i]] = args[i+1]
		}
		return fmt.Sprintf(":%d\r\n", added)
	case "HGET":
		v, ok := f.hashes[args[1]][args[2]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
	default:
		return "-ERR unknown command '" + args[0] + "'\r\n"
	}
}

func bounds(n int, rawStart, rawStop string) (int, int) {
	start, _ := strconv.Atoi(rawStart)
	stop, _ := strconv.Atoi(rawStop)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
