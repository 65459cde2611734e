// Package hostcall routes calls from a host engine into the dispatcher and formats
// the replies the host reads back.
package hostcall

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/dispatcher"
)

// configStruct is the central configuration used by this library
type configStruct struct {
	mu sync.RWMutex

	// version is returned when the host first loads the library
	version string

	// initHook runs once, before the first call is dispatched
	initHook func()
	initOnce sync.Once

	dispatcher *dispatcher.Dispatcher
}

// Config defines how calls into this library are handled
var Config = &configStruct{version: "No version set"}

// SetVersion sets the version string returned to the host.
func SetVersion(version string) {
	Config.mu.Lock()
	defer Config.mu.Unlock()
	Config.version = version
}

// Version returns the version string returned to the host.
func Version() string {
	Config.mu.RLock()
	defer Config.mu.RUnlock()
	return Config.version
}

// SetInitHook registers a function run once before the first dispatched call.
func SetInitHook(fn func()) {
	Config.mu.Lock()
	defer Config.mu.Unlock()
	Config.initHook = fn
}

// SetDispatcher sets the event dispatcher for handling commands
func SetDispatcher(d *dispatcher.Dispatcher) {
	Config.mu.Lock()
	defer Config.mu.Unlock()
	Config.dispatcher = d
}

// GetDispatcher returns the configured dispatcher, or nil if not set
func GetDispatcher() *dispatcher.Dispatcher {
	Config.mu.RLock()
	defer Config.mu.RUnlock()
	return Config.dispatcher
}

func runInitHook() {
	Config.mu.RLock()
	hook := Config.initHook
	Config.mu.RUnlock()
	if hook != nil {
		Config.initOnce.Do(hook)
	}
}

// Call dispatches command with args and returns the formatted reply. A command
// without args may carry them inline as "COMMAND|arg1|arg2".
func Call(command string, args []string) string {
	if command == ":TIMESTAMP:" {
		return strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	}

	runInitHook()

	d := GetDispatcher()
	if d == nil {
		return FormatResponse(nil, fmt.Errorf("no dispatcher for %s", command))
	}

	if len(args) == 0 && !d.HasHandler(command) && strings.Contains(command, "|") {
		parts := strings.Split(command, "|")
		command, args = parts[0], parts[1:]
	}

	if !d.HasHandler(command) {
		return FormatResponse(nil, fmt.Errorf("%w: %s", dispatcher.ErrUnknownCommand, command))
	}

	result, err := d.Dispatch(dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: time.Now(),
	})
	return FormatResponse(result, err)
}

// FormatResponse formats a dispatcher result as a JSON array the host can parse:
// ["ok"], ["ok", result] or ["error", message].
func FormatResponse(result any, err error) string {
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return `["error", ` + string(msg) + `]`
	}
	if result == nil {
		return `["ok"]`
	}

	data, mErr := json.Marshal(result)
	if mErr != nil {
		msg, _ := json.Marshal(fmt.Sprintf("unencodable result: %v", mErr))
		return `["error", ` + string(msg) + `]`
	}
	return `["ok", ` + string(data) + `]`
}
