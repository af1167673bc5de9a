package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
)

// runShell starts the interactive command loop.
func runShell(c *client) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dlm> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	printHelp()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			printHelp()
		default:
			if err := runCommand(c, cmd, args); err != nil {
				fmt.Fprintln(rl.Stderr(), "error:", err)
			}
		}
	}
}

func printHelp() {
	fmt.Print(`Commands:
  status                         site load overview
  capacity                       capacity and utilization
  limits <max-kw> <peak-kw>      set capacity limits
  rebalance                      force an allocation tick
  history [n]                    recent allocation ticks

  stations                       list stations
  station <id>                   show one station
  register <id> <class> <proto> <endpoint> [zone]
  remove <id>                    unregister a station
  power <id> <kw>                set a station power target
  start <id> [user]              start a charging session
  stop <id>                      stop a charging session
  phases <id> <a> <b> <c>        set per-phase currents
  soc <id> <percent>             report vehicle state of charge
  v2g <id> on|off                toggle bidirectional charging

  schedules                      list charging windows
  schedule <station> <cron..> <minutes> [boost]
  unschedule <id>                remove a charging window

  meters                         list meters
  pv [kw]                        show or set PV production
  consumption                    power breakdown
  cost                           tariff status

  zones                          show zone caps
  zone <name> <kw|clear>         set or clear a zone cap
  shedding                       shedding level and strategies
  violations                     recent constraint violations
  failsafe                       fail-safe status
  breakers                       driver circuit breakers
  watchdog                       system heartbeat status
  audit [category]               query the audit log
  discovery                      discovered endpoints

  watch                          stream live events (Ctrl-C stops)
  version                        daemon version
  quit                           exit
`)
}

// runCommand executes one command against the API and prints the result.
func runCommand(c *client, cmd string, args []string) error {
	switch cmd {
	case "status":
		return show(c.get("/api/v1/load/status"))
	case "capacity":
		return show(c.get("/api/v1/load/capacity"))
	case "limits":
		if len(args) != 2 {
			return fmt.Errorf("usage: limits <max-kw> <peak-kw>")
		}
		maxKW, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		peakKW, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}
		return show(c.put("/api/v1/load/limits", map[string]any{
			"max_capacity_kw":   maxKW,
			"peak_threshold_kw": peakKW,
		}))
	case "rebalance":
		return show(c.post("/api/v1/load/rebalance", nil))
	case "history":
		n := "20"
		if len(args) > 0 {
			n = args[0]
		}
		return show(c.get("/api/v1/load/history?limit=" + url.QueryEscape(n)))

	case "stations":
		return show(c.get("/api/v1/stations/"))
	case "station":
		if len(args) != 1 {
			return fmt.Errorf("usage: station <id>")
		}
		return show(c.get("/api/v1/stations/" + url.PathEscape(args[0]) + "/"))
	case "register":
		if len(args) < 4 {
			return fmt.Errorf("usage: register <id> <class> <proto> <endpoint> [zone]")
		}
		body := map[string]any{
			"id":       args[0],
			"class":    args[1],
			"protocol": args[2],
			"endpoint": args[3],
		}
		if len(args) > 4 {
			body["zone"] = args[4]
		}
		return show(c.post("/api/v1/stations/", body))
	case "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove <id>")
		}
		return show(c.delete("/api/v1/stations/" + url.PathEscape(args[0]) + "/"))
	case "power":
		if len(args) != 2 {
			return fmt.Errorf("usage: power <id> <kw>")
		}
		kw, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}
		return show(c.post("/api/v1/stations/"+url.PathEscape(args[0])+"/power",
			map[string]any{"power_kw": kw}))
	case "start":
		if len(args) < 1 {
			return fmt.Errorf("usage: start <id> [user]")
		}
		body := map[string]any{}
		if len(args) > 1 {
			body["user"] = args[1]
		}
		return show(c.post("/api/v1/stations/"+url.PathEscape(args[0])+"/sessions/start", body))
	case "stop":
		if len(args) != 1 {
			return fmt.Errorf("usage: stop <id>")
		}
		return show(c.post("/api/v1/stations/"+url.PathEscape(args[0])+"/sessions/stop", nil))
	case "phases":
		if len(args) != 4 {
			return fmt.Errorf("usage: phases <id> <a> <b> <c>")
		}
		currents := make([]float64, 3)
		for i, s := range args[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			currents[i] = v
		}
		return show(c.post("/api/v1/control/stations/"+url.PathEscape(args[0])+"/phases",
			map[string]any{"a": currents[0], "b": currents[1], "c": currents[2]}))
	case "soc":
		if len(args) != 2 {
			return fmt.Errorf("usage: soc <id> <percent>")
		}
		soc, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}
		return show(c.post("/api/v1/control/stations/"+url.PathEscape(args[0])+"/soc",
			map[string]any{"soc": soc}))
	case "v2g":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return fmt.Errorf("usage: v2g <id> on|off")
		}
		return show(c.post("/api/v1/control/stations/"+url.PathEscape(args[0])+"/v2g",
			map[string]any{"enabled": args[1] == "on"}))

	case "schedules":
		return show(c.get("/api/v1/schedules/"))
	case "schedule":
		// Cron expressions contain spaces: the last one or two args are
		// minutes [boost], everything between station and those is cron.
		if len(args) < 3 {
			return fmt.Errorf("usage: schedule <station> <cron..> <minutes> [boost]")
		}
		boost := 0
		end := len(args)
		if v, err := strconv.Atoi(args[end-1]); err == nil && end >= 4 {
			if _, err := strconv.Atoi(args[end-2]); err == nil {
				boost = v
				end--
			}
		}
		minutes, err := strconv.Atoi(args[end-1])
		if err != nil {
			return fmt.Errorf("invalid duration minutes %q", args[end-1])
		}
		return show(c.post("/api/v1/schedules/", map[string]any{
			"station_id":       args[0],
			"cron":             strings.Join(args[1:end-1], " "),
			"duration_minutes": minutes,
			"priority_boost":   boost,
		}))
	case "unschedule":
		if len(args) != 1 {
			return fmt.Errorf("usage: unschedule <id>")
		}
		return show(c.delete("/api/v1/schedules/" + url.PathEscape(args[0])))

	case "meters":
		return show(c.get("/api/v1/meters/"))
	case "pv":
		if len(args) == 0 {
			return show(c.get("/api/v1/energy/pv"))
		}
		kw, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return show(c.put("/api/v1/energy/pv", map[string]any{"power_kw": kw}))
	case "consumption":
		return show(c.get("/api/v1/energy/consumption"))
	case "cost":
		return show(c.get("/api/v1/energy/cost"))

	case "zones":
		return show(c.get("/api/v1/load/zones"))
	case "zone":
		if len(args) != 2 {
			return fmt.Errorf("usage: zone <name> <kw|clear>")
		}
		var capKW any
		if args[1] != "clear" {
			kw, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}
			capKW = kw
		}
		return show(c.put("/api/v1/load/zones", map[string]any{args[0]: capKW}))
	case "shedding":
		return show(c.get("/api/v1/health/shedding"))
	case "violations":
		return show(c.get("/api/v1/health/violations"))
	case "failsafe":
		return show(c.get("/api/v1/health/failsafe"))
	case "breakers":
		return show(c.get("/api/v1/health/breakers"))
	case "watchdog":
		return show(c.get("/api/v1/health/watchdog"))
	case "audit":
		path := "/api/v1/audit"
		if len(args) > 0 {
			path += "?category=" + url.QueryEscape(args[0])
		}
		return show(c.get(path))
	case "discovery":
		return show(c.get("/api/v1/control/discovery"))

	case "watch":
		return watch(c)
	case "version":
		return show(c.get("/api/v1/version"))
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
}

// show pretty-prints a data payload.
func show(data json.RawMessage, err error) error {
	if err != nil {
		return err
	}
	var out any
	if json.Unmarshal(data, &out) == nil {
		pretty, err := json.MarshalIndent(out, "", "  ")
		if err == nil {
			fmt.Println(string(pretty))
			return nil
		}
	}
	fmt.Println(string(data))
	return nil
}

// watch streams pushed events over the websocket until interrupted.
func watch(c *client) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if resp != nil {
		defer resp.Body.Close()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		_ = conn.Close()
	}()

	fmt.Println("streaming events, Ctrl-C to stop")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		fmt.Println(string(msg))
	}
}
