// fakesrv is a minimal stand-in for an instrumented protocol server. It answers
// RTSP, FTP or MQTT style requests and, like a sanitizer build, writes a coverage
// file into the coverage_dir named by ASAN_OPTIONS when it exits.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8554", "listen address")
	proto      = flag.String("proto", "rtsp", "rtsp | ftp | mqtt")
	startDelay = flag.Duration("start-delay", 0, "delay before listening")
	ignoreTerm = flag.Bool("ignore-term", false, "ignore SIGTERM and SIGINT")
	crashOn    = flag.String("crash-on", "", "exit abruptly when a request contains this marker")
	silentOn   = flag.String("silent-on", "", "never answer requests containing this marker")
)

var cseqRe = regexp.MustCompile(`(?i)CSeq:\s*(\d+)`)

func main() {
	flag.Parse()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	time.Sleep(*startDelay)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen:", err)
		os.Exit(2)
	}
	fmt.Fprintln(os.Stderr, "fakesrv listening on", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn)
		}
	}()

	for s := range sigs {
		if *ignoreTerm {
			fmt.Fprintf(os.Stderr, "Ignoring signal: %v\n", s)
			continue
		}
		_ = ln.Close()
		dumpCoverage()
		os.Exit(0)
	}
}

func serve(conn net.Conn) {
	defer conn.Close()
	if *proto == "ftp" {
		fmt.Fprint(conn, "220 fakesrv ready\r\n")
	}

	r := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		req := buf[:n]
		if *crashOn != "" && bytes.Contains(req, []byte(*crashOn)) {
			fmt.Fprintln(os.Stderr, "ERROR: AddressSanitizer: heap-buffer-overflow (simulated)")
			os.Exit(1)
		}
		if *silentOn != "" && bytes.Contains(req, []byte(*silentOn)) {
			continue
		}
		conn.Write(reply(req))
	}
}

func reply(req []byte) []byte {
	switch *proto {
	case "ftp":
		return []byte("200 OK\r\n")
	case "mqtt":
		// CONNACK for anything that looks like CONNECT, PINGRESP otherwise.
		if len(req) > 0 && req[0]>>4 == 1 {
			return []byte{0x20, 0x02, 0x00, 0x00}
		}
		return []byte{0xd0, 0x00}
	}

	cseq := "0"
	if m := cseqRe.FindSubmatch(req); m != nil {
		cseq = string(m[1])
	}
	var b strings.Builder
	b.WriteString("RTSP/1.0 200 OK\r\n")
	b.WriteString("CSeq: " + cseq + "\r\n")
	if bytes.HasPrefix(req, []byte("SETUP")) {
		b.WriteString("Session: 5A3F9C21;timeout=65\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func dumpCoverage() {
	opts := os.Getenv("ASAN_OPTIONS")
	for _, kv := range strings.Split(opts, ":") {
		if dir, ok := strings.CutPrefix(kv, "coverage_dir="); ok {
			name := fmt.Sprintf("fakesrv.%d.sancov", os.Getpid())
			_ = os.WriteFile(filepath.Join(dir, name), []byte("sancov"), 0644)
		}
	}
}
