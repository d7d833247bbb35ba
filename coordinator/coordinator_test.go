package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"matrix-convolution/shared"
)

// exchange sends one READY from rank and returns the reply.
func exchange(t *testing.T, inbox chan<- *Request, rank int) shared.Message {
	t.Helper()
	req := NewRequest(rank)
	select {
	case inbox <- req:
	case <-time.After(5 * time.Second):
		t.Fatalf("coordinator did not receive READY from %d", rank)
	}
	select {
	case m := <-req.Reply():
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("coordinator did not reply to %d", rank)
	}
	return 0
}

func TestRun_ExactlyOnceUnderRandomInterleavings(t *testing.T) {
	for seed := int64(0); seed < 60; seed++ {
		rng := rand.New(rand.NewSource(seed))
		workers := 1 + rng.Intn(6)
		tasks := rng.Intn(25)

		inbox := make(chan *Request)
		c := New(tasks, workers, inbox, nil)
		errc := make(chan error, 1)
		go func() { errc <- c.Run(context.Background()) }()

		var assigned []int
		stops := make(map[int]int)
		receives := 0
		idle := make([]int, 0, workers)
		for r := 1; r <= workers; r++ {
			idle = append(idle, r)
		}
		for len(idle) > 0 {
			i := rng.Intn(len(idle))
			rank := idle[i]
			m := exchange(t, inbox, rank)
			receives++
			if m.IsStop() {
				stops[rank]++
				idle = append(idle[:i], idle[i+1:]...)
				continue
			}
			idx, ok := m.Task()
			if !ok {
				t.Fatalf("seed %d: unexpected reply %v", seed, m)
			}
			if stops[rank] > 0 {
				t.Fatalf("seed %d: worker %d assigned after STOP", seed, rank)
			}
			assigned = append(assigned, idx)
		}

		if err := <-errc; err != nil {
			t.Fatalf("seed %d: Run: %v", seed, err)
		}
		if receives != tasks+workers {
			t.Fatalf("seed %d: %d receives, want %d", seed, receives, tasks+workers)
		}
		for i, idx := range assigned {
			if idx != i {
				t.Fatalf("seed %d: assignment %d was task %d; want increasing order", seed, i, idx)
			}
		}
		if len(assigned) != tasks {
			t.Fatalf("seed %d: %d assignments, want %d", seed, len(assigned), tasks)
		}
		for r := 1; r <= workers; r++ {
			if stops[r] != 1 {
				t.Fatalf("seed %d: worker %d got %d STOPs", seed, r, stops[r])
			}
		}
		if c.Next() != tasks {
			t.Fatalf("seed %d: cursor %d, want %d", seed, c.Next(), tasks)
		}
	}
}

func TestRun_ConcurrentWorkers(t *testing.T) {
	const tasks, workers = 200, 8
	inbox := make(chan *Request)
	c := New(tasks, workers, inbox, nil)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for r := 1; r <= workers; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			for {
				req := NewRequest(rank)
				inbox <- req
				m := <-req.Reply()
				if m.IsStop() {
					return
				}
				idx, _ := m.Task()
				mu.Lock()
				got = append(got, idx)
				mu.Unlock()
				if rank%2 == 0 {
					time.Sleep(time.Millisecond)
				}
			}
		}(r)
	}
	wg.Wait()

	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	sort.Ints(got)
	if len(got) != tasks {
		t.Fatalf("%d tasks executed, want %d", len(got), tasks)
	}
	for i, idx := range got {
		if idx != i {
			t.Fatalf("task %d missing or duplicated (got %d at position %d)", i, idx, i)
		}
	}

	for rank, st := range c.Report().Workers {
		if !st.Stopped || st.ReadyCount != st.TaskCount+1 {
			t.Fatalf("worker %d: %+v", rank, st)
		}
	}
}

func TestRun_ZeroTasksStopsEveryWorker(t *testing.T) {
	inbox := make(chan *Request)
	c := New(0, 3, inbox, nil)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	for r := 1; r <= 3; r++ {
		if m := exchange(t, inbox, r); !m.IsStop() {
			t.Fatalf("worker %d got %v want STOP", r, m)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_DeadWorkerStallsDrainUntilCancelled(t *testing.T) {
	inbox := make(chan *Request)
	c := New(2, 2, inbox, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	exchange(t, inbox, 1) // task 0, worker 1 then dies
	exchange(t, inbox, 2) // task 1
	if m := exchange(t, inbox, 2); !m.IsStop() {
		t.Fatalf("got %v want STOP", m)
	}

	select {
	case err := <-errc:
		t.Fatalf("Run returned %v while a worker is missing", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}

func TestRun_NoWorkers(t *testing.T) {
	c := New(1, 0, make(chan *Request), nil)
	if err := c.Run(context.Background()); err == nil {
		t.Fatalf("expected error with tasks and no workers")
	}
}

func TestRun_InboxClosed(t *testing.T) {
	inbox := make(chan *Request)
	close(inbox)
	c := New(1, 1, inbox, nil)
	if err := c.Run(context.Background()); !errors.Is(err, ErrInboxClosed) {
		t.Fatalf("got %v want ErrInboxClosed", err)
	}
}

func TestReport_JSON(t *testing.T) {
	inbox := make(chan *Request)
	c := New(3, 2, inbox, nil)
	c.Report().RunID = "run-1"
	c.Report().Strategy = "reference"
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	exchange(t, inbox, 2)
	exchange(t, inbox, 1)
	exchange(t, inbox, 2)
	exchange(t, inbox, 1)
	exchange(t, inbox, 2)
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	path := filepath.Join(t.TempDir(), "report.json")
	if err := c.Report().WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	doc := gjson.ParseBytes(data)
	if doc.Get("run_id").String() != "run-1" || doc.Get("tasks").Int() != 3 {
		t.Fatalf("unexpected report: %s", data)
	}
	if got := doc.Get("assignments").String(); got != "[2,1,2]" {
		t.Fatalf("assignments %s", got)
	}
	if doc.Get("workers.#").Int() != 2 || doc.Get("workers.0.rank").Int() != 1 || doc.Get("workers.1.tasks").Int() != 2 {
		t.Fatalf("workers %s", doc.Get("workers").Raw)
	}
	if !doc.Get("workers.0.stopped").Bool() {
		t.Fatalf("worker 1 not marked stopped: %s", data)
	}
}

func TestServer_ServesReadyOverTCP(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()

	c := New(2, 1, srv.Inbox(), nil)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := rpc.NewClientWithCodec(shared.NewClientCodec(conn))

	var replies []shared.Message
	for i := 0; i < 3; i++ {
		var reply shared.ReadyReply
		if err := client.Call(shared.ReadyMethod, shared.ReadyArgs{Rank: 1, Message: shared.Ready}, &reply); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		replies = append(replies, reply.Message)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []shared.Message{shared.Assign(0), shared.Assign(1), shared.Stop}
	for i := range want {
		if replies[i] != want[i] {
			t.Fatalf("reply %d: got %v want %v", i, replies[i], want[i])
		}
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var reply shared.ReadyReply
	if err := client.Call(shared.ReadyMethod, shared.ReadyArgs{Rank: 1}, &reply); err == nil {
		t.Fatalf("expected error after shutdown")
	}
	client.Close()

	waited := make(chan struct{})
	go func() { srv.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait did not return after the worker hung up")
	}
}
