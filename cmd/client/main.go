// Command client is a line-oriented chat client. It drives the client
// session package the same way a GUI would, printing inbound events and
// reading commands from stdin:
//
//	hello everyone          broadcast a text message
//	/msg <ip> <port> <text> private text message
//	/send <ip> <port> <path> private file attachment
//	/share <path>           broadcast a file attachment
//	/quit                   log out and exit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/plazachat/plaza/pkg/client"
	"github.com/plazachat/plaza/pkg/protocol"
)

func main() {
	log.SetFlags(0)

	configPath := flag.String("config", "~/.plaza/client.toml", "Path to client config file")
	serverAddr := flag.String("server", "", "Server address host:port (overrides config)")
	username := flag.String("username", "", "Username (overrides config)")
	localIP := flag.String("local-ip", "", "Local IP to report (overrides config)")
	localPort := flag.Int("local-port", 0, "Local port to report (overrides config)")
	flag.Parse()

	path := *configPath
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	config, err := client.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *serverAddr != "" {
		config.ServerAddr = *serverAddr
	}
	if *username != "" {
		config.Username = *username
	}
	if *localIP != "" {
		config.LocalIP = *localIP
	}
	if *localPort != 0 {
		config.LocalPort = *localPort
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	done := make(chan struct{})

	c := client.New(config, client.Handlers{
		OnRoster: func(m *protocol.RosterMessage) {
			fmt.Printf("* %d user(s) online:\n", len(m.Users))
			for _, u := range m.Users {
				fmt.Printf("  - %s (%s)\n", u.Username, u.Address)
			}
		},
		OnFriendLogin: func(m *protocol.FriendLoginMessage) {
			fmt.Printf("* %s logged in (%s:%d)\n", m.Username, m.LocalIP, m.LocalPort.Int())
		},
		OnUserLogout: func(m *protocol.UserLogoutMessage) {
			fmt.Printf("* %s logged out\n", m.Username)
		},
		OnSquareText: func(m *protocol.SquareTextMessage) {
			fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.Username, m.Content)
		},
		OnPrivateText: func(m *protocol.PrivateTextMessage) {
			fmt.Printf("[%s] %s (private): %s\n", m.Timestamp, m.Username, m.Content)
		},
		OnSquareMedia: func(m *protocol.SquareMediaMessage) {
			saveAttachment(m.Username, m.Kind, m.Data, m.FileName)
		},
		OnPrivateMedia: func(m *protocol.PrivateMediaMessage) {
			saveAttachment(m.Username+" (private)", m.Kind, m.Data, m.FileName)
		},
		OnDisconnect: func(err error) {
			if err != nil {
				fmt.Printf("* connection lost: %v\n", err)
			}
			close(done)
		},
	})

	if err := c.Connect(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	fmt.Printf("Connected to %s as %s. Type /quit to exit.\n", config.ServerAddr, config.Username)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				c.Logout()
				return
			}
			if err := runCommand(c, line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
		c.Logout()
	}()

	<-done
}

func runCommand(c *client.Client, line string) error {
	if !strings.HasPrefix(line, "/") {
		return c.SendSquareText(line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/msg":
		if len(fields) < 4 {
			return fmt.Errorf("usage: /msg <ip> <port> <text>")
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("bad port %q", fields[2])
		}
		text := strings.Join(fields[3:], " ")
		return c.SendPrivateText(fields[1], port, text)

	case "/send":
		if len(fields) != 4 {
			return fmt.Errorf("usage: /send <ip> <port> <path>")
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("bad port %q", fields[2])
		}
		data, ext, name, err := readAttachment(fields[3])
		if err != nil {
			return err
		}
		return c.SendPrivateMedia(protocol.KindFile, fields[1], port, data, ext, name)

	case "/share":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /share <path>")
		}
		data, ext, name, err := readAttachment(fields[1])
		if err != nil {
			return err
		}
		return c.SendSquareMedia(protocol.KindFile, data, ext, name)

	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

func readAttachment(path string) (data []byte, ext, name string, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, "", "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, filepath.Ext(path), filepath.Base(path), nil
}

func saveAttachment(from string, kind protocol.MediaKind, data, fileName string) {
	raw, err := client.DecodeMedia(data)
	if err != nil {
		fmt.Printf("! bad %s payload from %s: %v\n", kind, from, err)
		return
	}
	out := filepath.Join(os.TempDir(), fileName)
	if err := os.WriteFile(out, raw, 0644); err != nil {
		fmt.Printf("! failed to save %s from %s: %v\n", fileName, from, err)
		return
	}
	fmt.Printf("* %s sent %s %q (%d bytes) -> %s\n", from, kind, fileName, len(raw), out)
}
