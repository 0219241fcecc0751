package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/database"
)

// cliUsage lists the client subcommands. `serve` (the default) runs the
// daemon; everything else drives a running daemon over HTTP.
const cliUsage = `Usage: harborr <command> [flags]

Commands:
  serve              run the daemon (default)
  add                request a movie or show by external id
  get <id>           show an item and its children
  remove <id>        delete an item subtree
  retry <id>         requeue an item
  reset <id>         clear progress and requeue an item
  pause <id>         pause an item
  unpause <id>       unpause an item
  reindex <id>       re-run metadata indexing
  streams <id>       list an item's candidate streams
  blacklisted <id>   list an item's blacklisted streams
  blacklist <id> <streamId>    blacklist a stream for an item
  unblacklist <id> <streamId>  restore a blacklisted stream
  reset-streams <id> clear an item's stream curation
  settings [key]     show all settings, or one key
  set <key> <value>  change a setting (value parsed as JSON, else string)
  settings-load      reload settings from the config file
  settings-save      persist current settings to the config file
  apikey             rotate the daemon API key
  tasks              list scheduled jobs and pending tasks
  calendar           show upcoming releases
  queue              show queued and running events
  files              list library files through the VFS
  logs               show recent log entries
  backup             snapshot the daemon's database
  restore <path>     replace the local database with a snapshot (daemon stopped)
  stop               stop the daemon
  restart            restart the daemon

Common flags:
  --url              daemon base URL (default http://localhost:8585)
  --api-key          API key (or HARBORR_API_KEY)
  --config           config file path (restore)
`

type cliClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func runCLI(command string, args []string) int {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	url := fs.String("url", "http://localhost:8585", "daemon base URL")
	apiKey := fs.String("api-key", os.Getenv("HARBORR_API_KEY"), "API key")
	configPath := fs.String("config", "", "config file path (restore)")
	typ := fs.String("type", "movie", "movie or show (add)")
	imdb := fs.String("imdb", "", "IMDB id (add)")
	tmdb := fs.String("tmdb", "", "TMDB id (add)")
	tvdb := fs.String("tvdb", "", "TVDB id (add)")

	// Item commands take the id as the first positional argument; flags
	// follow the positionals.
	var positional []string
	var flagArgs []string
	for _, a := range args {
		if isFlag(a) || len(flagArgs) > 0 {
			flagArgs = append(flagArgs, a)
		} else {
			positional = append(positional, a)
		}
	}
	fs.Parse(flagArgs)

	client := &cliClient{
		baseURL: *url,
		apiKey:  *apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch command {
	case "add":
		err = client.add(*typ, *imdb, *tmdb, *tvdb)
	case "get":
		err = client.itemCommand(http.MethodGet, "", positional)
	case "remove":
		err = client.itemCommand(http.MethodDelete, "", positional)
	case "retry":
		err = client.itemCommand(http.MethodPost, "retry", positional)
	case "reset":
		err = client.itemCommand(http.MethodPost, "reset", positional)
	case "pause":
		err = client.itemCommand(http.MethodPost, "pause", positional)
	case "unpause":
		err = client.itemCommand(http.MethodPost, "unpause", positional)
	case "reindex":
		err = client.itemCommand(http.MethodPost, "reindex", positional)
	case "streams":
		err = client.itemCommand(http.MethodGet, "streams", positional)
	case "blacklisted":
		err = client.itemCommand(http.MethodGet, "streams/blacklisted", positional)
	case "blacklist":
		err = client.streamCommand("blacklist", positional)
	case "unblacklist":
		err = client.streamCommand("unblacklist", positional)
	case "reset-streams":
		err = client.itemCommand(http.MethodPost, "streams/reset", positional)
	case "settings":
		if len(positional) > 0 {
			err = client.get("/api/v1/settings/" + positional[0])
		} else {
			err = client.get("/api/v1/settings")
		}
	case "set":
		err = client.setSetting(positional)
	case "settings-load":
		err = client.do(http.MethodPost, "/api/v1/settings/load", nil)
	case "settings-save":
		err = client.do(http.MethodPost, "/api/v1/settings/save", nil)
	case "apikey":
		err = client.do(http.MethodPost, "/api/v1/auth/apikey", nil)
	case "tasks":
		err = client.get("/api/v1/tasks")
	case "calendar":
		err = client.get("/api/v1/calendar")
	case "queue":
		err = client.get("/api/v1/queue")
	case "files":
		err = client.get("/api/v1/vfs/files")
	case "logs":
		err = client.get("/api/v1/logs")
	case "backup":
		err = client.do(http.MethodPost, "/api/v1/system/backup", nil)
	case "restore":
		err = restoreSnapshot(*configPath, positional)
	case "stop":
		err = client.do(http.MethodPost, "/api/v1/system/stop", nil)
	case "restart":
		err = client.do(http.MethodPost, "/api/v1/system/restart", nil)
	case "help", "--help", "-h":
		fmt.Print(cliUsage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, cliUsage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// restoreSnapshot runs locally against the configured database file. The
// daemon must not be running.
func restoreSnapshot(configPath string, positional []string) error {
	if len(positional) == 0 {
		return fmt.Errorf("snapshot path required")
	}
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Restore(positional[0]); err != nil {
		return err
	}
	fmt.Printf("restored %s from %s\n", cfg.Database.Path, positional[0])
	return nil
}

func (c *cliClient) add(typ, imdb, tmdb, tvdb string) error {
	if imdb == "" && tmdb == "" && tvdb == "" {
		return fmt.Errorf("at least one of --imdb, --tmdb, --tvdb is required")
	}
	body := map[string]string{
		"type":         typ,
		"imdb_id":      imdb,
		"tmdb_id":      tmdb,
		"tvdb_id":      tvdb,
		"requested_by": "cli",
	}
	return c.do(http.MethodPost, "/api/v1/items", body)
}

func (c *cliClient) itemCommand(method, action string, positional []string) error {
	if len(positional) == 0 {
		return fmt.Errorf("item id required")
	}
	path := "/api/v1/items/" + positional[0]
	if action != "" {
		path += "/" + action
	}
	return c.do(method, path, nil)
}

// streamCommand drives the per-stream curation routes, which take both an
// item id and a stream id.
func (c *cliClient) streamCommand(action string, positional []string) error {
	if len(positional) < 2 {
		return fmt.Errorf("item id and stream id required")
	}
	path := fmt.Sprintf("/api/v1/items/%s/streams/%s/%s", positional[0], positional[1], action)
	return c.do(http.MethodPost, path, nil)
}

// setSetting sends the value as typed JSON when it parses, string otherwise.
func (c *cliClient) setSetting(positional []string) error {
	if len(positional) < 2 {
		return fmt.Errorf("setting key and value required")
	}
	var value any
	if err := json.Unmarshal([]byte(positional[1]), &value); err != nil {
		value = positional[1]
	}
	return c.do(http.MethodPut, "/api/v1/settings/"+positional[0], map[string]any{"value": value})
}

func (c *cliClient) get(path string) error {
	return c.do(http.MethodGet, path, nil)
}

func (c *cliClient) do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		fmt.Println("ok")
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		os.Stdout.Write(data)
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
