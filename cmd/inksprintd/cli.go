package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kramQAQ/inksprint/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled, mirroring the teacher's RunCLI-before-flag-parsing pattern.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("inksprintd %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "users":
		return cliUsers(args[1:], dbPath)
	case "rooms":
		return cliRooms(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func openOrExit(dbPath string) *store.Store {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openOrExit(dbPath)
	defer st.Close()

	version, err := st.SchemaVersion()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	userCount, _ := st.CountUsers()
	groupCount, _ := st.CountGroups()
	activeSprints, _ := st.CountActiveSprintGroups()

	fmt.Printf("Build: inksprintd %s\n", Version)
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Schema version: %d\n", version)
	fmt.Printf("Users: %d\n", userCount)
	fmt.Printf("Rooms: %d (sprints active: %d)\n", groupCount, activeSprints)
	return true
}

func cliUsers(args []string, dbPath string) bool {
	st := openOrExit(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		users, err := st.ListUsers()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return true
		}
		for _, u := range users {
			admin := ""
			if u.IsAdmin {
				admin = " [admin]"
			}
			fmt.Printf("  [%d] %s (%s)%s\n", u.ID, u.Username, u.Nickname, admin)
		}
		return true
	}

	if args[0] == "promote" && len(args) > 1 {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid user id %q\n", args[1])
			os.Exit(1)
		}
		if err := st.PromoteUser(id); err != nil {
			fmt.Fprintf(os.Stderr, "error promoting user %d: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("User %d promoted to admin.\n", id)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: inksprintd users [list|promote <id>]\n")
	os.Exit(1)
	return true
}

func cliRooms(args []string, dbPath string) bool {
	st := openOrExit(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		groups, err := st.ListGroups()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(groups) == 0 {
			fmt.Println("No rooms found.")
			return true
		}
		for _, g := range groups {
			visibility := "public"
			if g.IsPrivate {
				visibility = "private"
			}
			sprint := ""
			if g.SprintActive {
				sprint = " [sprint active]"
			}
			fmt.Printf("  [%d] %s (%s, owner=%d)%s\n", g.ID, g.Name, visibility, g.OwnerID, sprint)
		}
		return true
	}

	if args[0] == "disband" && len(args) > 1 {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid room id %q\n", args[1])
			os.Exit(1)
		}
		if err := st.DeleteGroup(id); err != nil {
			fmt.Fprintf(os.Stderr, "error disbanding room %d: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("Room %d disbanded.\n", id)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: inksprintd rooms [list|disband <id>]\n")
	os.Exit(1)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st := openOrExit(dbPath)
	defer st.Close()

	outPath := "inksprint-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
