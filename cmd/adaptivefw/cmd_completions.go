package main

// ---------------------------------------------------------------------------
// cmd_completions.go: shell completion scripts
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// completionWords lists what may follow each command.
var completionWords = map[string][]string{
	"rules":       {"list", "get", "add", "rm", "--action", "--expire", "--limit", "--reason", "--format", "--output"},
	"config":      {"show", "validate", "init", "--format", "--show-secrets", "--force"},
	"export":      {"rules", "audit", "alerts", "traffic", "--format", "--output"},
	"simulate":    {"--points", "--scenario", "--seed", "--local", "--detector", "--traffic-csv", "--format"},
	"cycle":       {"--file", "--kafka", "--brokers", "--nats", "--nats-url", "--topic", "--format"},
	"audit":       {"--limit", "--follow", "--format", "--output"},
	"apply":       {"--last", "--format"},
	"logs":        {"--limit", "--level", "--format"},
	"up":          {"--config", "--log-level", "--storage", "--dsn", "--detector", "--dry-run", "--quiet", "--no-color"},
	"completions": {"bash", "zsh", "fish"},
	"help":        commands,
}

func cmdCompletions(args []string) {
	if len(args) == 0 {
		cmdHelp("completions")
		os.Exit(0)
	}
	switch strings.ToLower(args[0]) {
	case "bash":
		writeBashCompletions(os.Stdout)
	case "zsh":
		fmt.Fprintln(os.Stdout, "#compdef adaptivefw")
		fmt.Fprintln(os.Stdout, "autoload -U bashcompinit && bashcompinit")
		writeBashCompletions(os.Stdout)
	case "fish":
		writeFishCompletions(os.Stdout)
	default:
		errorf("unsupported shell %q (bash, zsh, fish)", args[0])
	}
}

func sortedCompletionKeys() []string {
	keys := make([]string, 0, len(completionWords))
	for k := range completionWords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeBashCompletions(w io.Writer) {
	fmt.Fprintln(w, "# adaptivefw bash completions")
	fmt.Fprintln(w, "# Add to ~/.bashrc: source <(adaptivefw completions bash)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "_adaptivefw() {")
	fmt.Fprintln(w, `    local cur="${COMP_WORDS[COMP_CWORD]}"`)
	fmt.Fprintln(w, `    local cmd="${COMP_WORDS[1]}"`)
	fmt.Fprintln(w, "    if [ \"$COMP_CWORD\" -eq 1 ]; then")
	fmt.Fprintf(w, "        COMPREPLY=( $(compgen -W %q -- \"$cur\") )\n", strings.Join(commands, " "))
	fmt.Fprintln(w, "        return 0")
	fmt.Fprintln(w, "    fi")
	fmt.Fprintln(w, `    case "$cmd" in`)
	for _, k := range sortedCompletionKeys() {
		fmt.Fprintf(w, "        %s) COMPREPLY=( $(compgen -W %q -- \"$cur\") ) ;;\n", k, strings.Join(completionWords[k], " "))
	}
	fmt.Fprintln(w, `        *) COMPREPLY=( $(compgen -W "--host --port --api-key --format --timeout" -- "$cur") ) ;;`)
	fmt.Fprintln(w, "    esac")
	fmt.Fprintln(w, "}")
	fmt.Fprintln(w, "complete -F _adaptivefw adaptivefw")
}

func writeFishCompletions(w io.Writer) {
	fmt.Fprintln(w, "# adaptivefw fish completions")
	fmt.Fprintln(w, "# Save to ~/.config/fish/completions/adaptivefw.fish")
	fmt.Fprintln(w, "complete -c adaptivefw -f")
	for _, c := range commands {
		fmt.Fprintf(w, "complete -c adaptivefw -n '__fish_use_subcommand' -a %s -d %q\n", c, commandHelp[c])
	}
	for _, k := range sortedCompletionKeys() {
		for _, word := range completionWords[k] {
			if strings.HasPrefix(word, "--") {
				fmt.Fprintf(w, "complete -c adaptivefw -n '__fish_seen_subcommand_from %s' -l %s\n", k, strings.TrimPrefix(word, "--"))
			} else {
				fmt.Fprintf(w, "complete -c adaptivefw -n '__fish_seen_subcommand_from %s' -a %s\n", k, word)
			}
		}
	}
}
