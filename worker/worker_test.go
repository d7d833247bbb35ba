package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"matrix-convolution/coordinator"
	"matrix-convolution/executor"
	"matrix-convolution/kernel"
	"matrix-convolution/matrix"
	"matrix-convolution/shared"
	"matrix-convolution/tasklist"
)

// scriptedConn replays a fixed sequence of replies.
type scriptedConn struct {
	replies []shared.Message
	calls   int
}

func (c *scriptedConn) Ready(context.Context) (shared.Message, error) {
	if c.calls >= len(c.replies) {
		return 0, errors.New("script exhausted")
	}
	m := c.replies[c.calls]
	c.calls++
	return m, nil
}

// recordingExecutor records executed task indices and fails the ones in
// fail.
type recordingExecutor struct {
	mu   sync.Mutex
	seen []int
	fail map[int]bool
}

func (e *recordingExecutor) Execute(_ context.Context, task tasklist.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail[task.Index] {
		return fmt.Errorf("cannot read %s", task.A)
	}
	e.seen = append(e.seen, task.Index)
	return nil
}

func makeTasks(n int) []tasklist.Task {
	tasks := make([]tasklist.Task, n)
	for i := range tasks {
		tasks[i] = tasklist.FromDir(i, fmt.Sprintf("case%d", i))
	}
	return tasks
}

func TestRun_ExecutesUntilStop(t *testing.T) {
	conn := &scriptedConn{replies: []shared.Message{shared.Assign(2), shared.Assign(0), shared.Stop}}
	exec := &recordingExecutor{}
	w := New(1, makeTasks(3), conn, exec, nil)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conn.calls != 3 {
		t.Fatalf("%d READYs sent, want 3", conn.calls)
	}
	if got := w.Completed(); len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Fatalf("completed %v", got)
	}
}

func TestRun_FailureStopsWithoutAnotherReady(t *testing.T) {
	conn := &scriptedConn{replies: []shared.Message{shared.Assign(0), shared.Assign(1), shared.Stop}}
	exec := &recordingExecutor{fail: map[int]bool{1: true}}
	w := New(1, makeTasks(2), conn, exec, nil)

	err := w.Run(context.Background())
	var te *TaskError
	if !errors.As(err, &te) || te.Index != 1 {
		t.Fatalf("got %v want TaskError for task 1", err)
	}
	if conn.calls != 2 {
		t.Fatalf("%d READYs sent, want 2", conn.calls)
	}
}

func TestRun_ProtocolViolation(t *testing.T) {
	for _, m := range []shared.Message{shared.Assign(5), -7} {
		conn := &scriptedConn{replies: []shared.Message{m}}
		w := New(1, makeTasks(2), conn, &recordingExecutor{}, nil)
		if err := w.Run(context.Background()); !errors.Is(err, ErrProtocol) {
			t.Fatalf("%v: got %v want ErrProtocol", m, err)
		}
	}
}

func TestRun_ConnError(t *testing.T) {
	w := New(1, nil, &scriptedConn{}, &recordingExecutor{}, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("expected error from exhausted conn")
	}
}

// writeCase writes operands for one task and returns the expected output.
func writeCase(t *testing.T, rng *rand.Rand, dir string) *matrix.Matrix {
	t.Helper()
	ra, ca := 4+rng.Intn(12), 4+rng.Intn(30)
	a, _ := matrix.New(ra, ca)
	b, _ := matrix.New(1+rng.Intn(ra), 1+rng.Intn(ca))
	for i := range a.Data {
		a.Data[i] = int32(rng.Intn(200) - 100)
	}
	for i := range b.Data {
		b.Data[i] = int32(rng.Intn(200) - 100)
	}
	if err := matrix.WriteFile(filepath.Join(dir, tasklist.AFile), a); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := matrix.WriteFile(filepath.Join(dir, tasklist.BFile), b); err != nil {
		t.Fatalf("write b: %v", err)
	}
	want, err := (&kernel.Reference{}).Convolve(a, b)
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	return want
}

func TestFarm_InProcess(t *testing.T) {
	const numTasks, numWorkers = 12, 3
	rng := rand.New(rand.NewSource(42))

	tasks := make([]tasklist.Task, numTasks)
	want := make([]*matrix.Matrix, numTasks)
	for i := range tasks {
		dir := t.TempDir()
		want[i] = writeCase(t, rng, dir)
		tasks[i] = tasklist.FromDir(i, dir)
	}

	inbox := make(chan *coordinator.Request)
	coord := coordinator.New(numTasks, numWorkers, inbox, nil)
	coordErr := make(chan error, 1)
	go func() { coordErr <- coord.Run(context.Background()) }()

	k, err := kernel.New(kernel.NameVectorized, kernel.WithParallelism(2))
	if err != nil {
		t.Fatalf("kernel: %v", err)
	}

	workers := make([]*Worker, numWorkers)
	errs := make(chan error, numWorkers)
	for r := 1; r <= numWorkers; r++ {
		ex := executor.New(matrix.FileIO{}, k, nil)
		workers[r-1] = New(r, tasks, InboxConn{Rank: r, Inbox: inbox}, ex, nil)
		go func(w *Worker) { errs <- w.Run(context.Background()) }(workers[r-1])
	}
	for i := 0; i < numWorkers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("worker: %v", err)
		}
	}
	if err := <-coordErr; err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	var done []int
	for _, w := range workers {
		done = append(done, w.Completed()...)
	}
	sort.Ints(done)
	for i, idx := range done {
		if idx != i {
			t.Fatalf("completed set %v is not 0..%d", done, numTasks-1)
		}
	}

	for i, task := range tasks {
		got, err := matrix.ReadFile(task.Out)
		if err != nil {
			t.Fatalf("task %d: %v", i, err)
		}
		if !got.Equal(want[i]) {
			t.Fatalf("task %d: output differs from reference", i)
		}
	}
}

func TestFarm_OverRPC(t *testing.T) {
	const numTasks, numWorkers = 30, 4
	srv, err := coordinator.Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	defer srv.Close()

	coord := coordinator.New(numTasks, numWorkers, srv.Inbox(), nil)
	coordErr := make(chan error, 1)
	go func() { coordErr <- coord.Run(context.Background()) }()

	exec := &recordingExecutor{}
	tasks := makeTasks(numTasks)
	errs := make(chan error, numWorkers)
	for r := 1; r <= numWorkers; r++ {
		go func(rank int) {
			conn, err := Dial(context.Background(), srv.Addr().String(), rank, 3, 10*time.Millisecond, nil)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			errs <- New(rank, tasks, conn, exec, nil).Run(context.Background())
		}(r)
	}
	for i := 0; i < numWorkers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("worker: %v", err)
		}
	}
	if err := <-coordErr; err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	srv.Close()
	srv.Wait()

	sort.Ints(exec.seen)
	if len(exec.seen) != numTasks {
		t.Fatalf("%d tasks executed, want %d", len(exec.seen), numTasks)
	}
	for i, idx := range exec.seen {
		if idx != i {
			t.Fatalf("task %d missing or duplicated", i)
		}
	}
	for rank := 1; rank <= numWorkers; rank++ {
		st, ok := coord.Report().Workers[rank]
		if !ok || !st.Stopped {
			t.Fatalf("worker %d not stopped: %+v", rank, st)
		}
	}
}

func TestDial_GivesUp(t *testing.T) {
	srv, err := coordinator.Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := srv.Addr().String()
	srv.Close()

	_, err = Dial(context.Background(), addr, 1, 2, time.Millisecond, nil)
	if err == nil {
		t.Fatalf("expected dial error against a closed listener")
	}
}

func TestInboxConn_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn := InboxConn{Rank: 1, Inbox: make(chan *coordinator.Request)}
	if _, err := conn.Ready(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}
