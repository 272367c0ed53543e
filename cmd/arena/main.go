// Command arena hosts WebAssembly board games and runs matches between
// human and LLM players.
package main

import (
	"fmt"
	"os"
	"strings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "serve":
		err = runServe(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "play":
		err = runPlay(os.Args[2:])
	case "games":
		err = runGames(os.Args[2:])
	case "version":
		fmt.Println("arena", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'arena --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`arena - WebAssembly game host and match runner

USAGE:
    arena <COMMAND> [FLAGS]

COMMANDS:
    serve                              Run the HTTP API and restore persisted games
    validate <module.wasm> [metadata]  Check a module against the host contract
    play <module.wasm> [metadata]      Play a match in the terminal
                                       --p1, --p2  human | human:<timeout> | llm[:provider[:model]]
    games                              List persisted games
    version                            Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file (default: ./arena.yaml, or $ARENA_CONFIG)

CONFIGURATION:
    Environment: ARENA_* variables override config

EXAMPLES:
    arena validate games/tictactoe.wasm games/tictactoe.json
    arena play games/tictactoe.wasm --p1 human --p2 llm:openai
    arena serve --config /etc/arena.yaml`)
}

// configPath returns the --config value from args, $ARENA_CONFIG, or the default.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	if p := os.Getenv("ARENA_CONFIG"); p != "" {
		return p
	}
	return "arena.yaml"
}
