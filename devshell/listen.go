package devshell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Run advances the simulation every Tick until ctx is done
func (sh *Shell) Run(ctx context.Context) {
	tick := sh.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	speedup := sh.Speedup
	if speedup <= 0 {
		speedup = 1
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sh.Advance(tick.Seconds() * speedup)
		case <-ctx.Done():
			return
		}
	}
}

// ListenAndServe listens on addr and serves consoles until ctx is done.
// The simulation loop is not started; see Run.
func (sh *Shell) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return sh.Serve(ctx, ln)
}

// Serve accepts console connections on ln until ctx is done
func (sh *Shell) Serve(ctx context.Context, ln net.Listener) error {
	sh.log.WithField("addr", ln.Addr().String()).Info("device shell listening")
	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sh.serveConn(ctx, conn)
		}()
	}
}

func (sh *Shell) serveConn(ctx context.Context, conn net.Conn) {
	log := sh.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("console connected")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	w := bufio.NewWriter(conn)
	if err := writeBurst(w, nil); err != nil {
		return
	}
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		lines, eval := sh.Exec(sc.Text())
		if eval != nil {
			if err := writeLines(w, lines); err != nil {
				return
			}
			select {
			case score := <-eval:
				lines = []string{fmt.Sprintf("EVAL_RESULT:%.4f", score)}
			case <-ctx.Done():
				return
			}
		}
		if err := writeBurst(w, lines); err != nil {
			log.WithError(err).Debug("write failed")
			return
		}
	}
	log.Info("console disconnected")
}

func writeLines(w *bufio.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// writeBurst writes lines followed by the unterminated prompt
func writeBurst(w *bufio.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, Prompt); err != nil {
		return err
	}
	return w.Flush()
}
