package ipc

// Request and response logging for the connection loop

import (
	"log"
	"time"
)

// polling commands are issued several times a second and never logged
func isPolling(cmd CommandType) bool {
	return cmd == CmdStatus || cmd == CmdSpectrum
}

func logRequest(c *client, req *Request) {
	if isPolling(req.Cmd) {
		return
	}
	log.Printf("[IPC] Command: %s from %s", req.Cmd, truncateID(c.id))
}

func logResponse(req *Request, resp *Response, duration time.Duration) {
	switch {
	case !resp.Success:
		log.Printf("[IPC] Response: cmd=%s error=%q duration=%v", req.Cmd, resp.Error, duration)
	case !isPolling(req.Cmd):
		log.Printf("[IPC] Response: cmd=%s success duration=%v", req.Cmd, duration)
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
