// Package ipc implements the controller's local RPC surface: a line-oriented
// TCP protocol answering get_user_space_pod lookups for collaborating
// services (e.g. the web shell gateway), mirroring the original system's
// rpyc-based IPC service. No example repo in the corpus wires a Go RPC
// library against a plain persistent TCP socket in this shape, so this
// package is deliberately built on net + bufio rather than grpc or net/rpc —
// documented in DESIGN.md.
package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tasksched/controller/internal/controller"
	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
)

// Server answers get_user_space_pod lookups over TCP.
type Server struct {
	executor *controller.Executor
	addr     string
	listener net.Listener
}

// NewServer constructs an IPC server bound to addr (host:port).
func NewServer(executor *controller.Executor, addr string) *Server {
	return &Server{executor: executor, addr: addr}
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log := logger.IPC()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	log.Info().Str("addr", s.addr).Msg("ipc server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("ipc server stopped")
				return nil
			default:
				log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go s.handle(ctx, conn)
	}
}

// handle serves a single connection: one request per line, one response per
// line, until the peer disconnects. Request format:
//
//	get_user_space_pod <template_uuid> <user_uuid> [recreate] [purge]
//
// Response is the pod name, or "nil" when no pool pod has capacity, or
// "error <message>" on failure.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logger.IPC()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "get_user_space_pod":
			s.handleGetUserSpacePod(ctx, conn, fields[1:])
		default:
			metrics.RecordIPCRequest("unknown_command")
			fmt.Fprintf(conn, "error unknown command %q\n", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("connection read error")
	}
}

func (s *Server) handleGetUserSpacePod(ctx context.Context, conn net.Conn, args []string) {
	if len(args) < 2 {
		metrics.RecordIPCRequest("bad_request")
		fmt.Fprintf(conn, "error get_user_space_pod requires template_uuid and user_uuid\n")
		return
	}
	templateUUID, userUUID := args[0], args[1]

	opts := controller.LeaseOptions{}
	for _, flag := range args[2:] {
		switch flag {
		case "recreate":
			opts.Recreate = true
		case "purge":
			opts.Purge = true
		}
	}

	podName, err := s.executor.Lease(ctx, templateUUID, userUUID, opts)
	if err != nil {
		if errors.Is(err, controller.ErrUnknownUser) {
			metrics.RecordIPCRequest("unknown_user")
			fmt.Fprintf(conn, "nil\n")
			return
		}
		metrics.RecordIPCRequest("error")
		fmt.Fprintf(conn, "error %v\n", err)
		return
	}
	if podName == "" {
		metrics.RecordIPCRequest("no_capacity")
		fmt.Fprintf(conn, "nil\n")
		return
	}

	metrics.RecordIPCRequest("ok")
	fmt.Fprintf(conn, "%s\n", podName)
}
