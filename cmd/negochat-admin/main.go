package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/negohq/negochat/config"
	"github.com/negohq/negochat/globals"
	"github.com/negohq/negochat/persistence"
	"github.com/negohq/negochat/types"
)

// A very simple CLI tool for the administration of negochat rooms and agent
// personas.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	var roomName, roomDescription, createdBy, assignedTo string
	var maxUsers int

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms or agent templates",
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms lists all rooms.`,
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := persister.GetRooms()
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			r, err := json.Marshal(rooms)
			if err != nil {
				globals.AppLogger.Error("could not marshal rooms", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id or join code]",
		Short: "Show room",
		Long:  `show room prints detail information about one room, looked up by id or numeric join code.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var room *types.Room
			var err error
			if code, convErr := strconv.Atoi(args[0]); convErr == nil {
				room, err = persister.GetRoomByCode(code)
			} else {
				room, err = persister.GetRoom(args[0])
			}
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			r, err := json.Marshal(room)
			if err != nil {
				globals.AppLogger.Error("could not marshal room", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdShowAgent = &cobra.Command{
		Use:   "agent [template]",
		Short: "Show agent template",
		Long:  `show agent prints the stored persona configuration of one agent template.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			tpl, err := persister.GetAgentTemplate(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get agent template", "error", err)
				return
			}
			t, err := json.Marshal(tpl)
			if err != nil {
				globals.AppLogger.Error("could not marshal agent template", "error", err)
				return
			}
			fmt.Println(string(t))
		},
	}
	var cmdCreateRoom = &cobra.Command{
		Use:   "create-room",
		Short: "Create a room",
		Long:  `create-room stores a new room and prints it, including the generated join code and invite token.`,
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{
				Name:        roomName,
				Description: roomDescription,
				MaxUsers:    maxUsers,
				CreatedBy:   createdBy,
				AssignedTo:  assignedTo,
			}
			if room.AssignedTo != "" && !types.IsAgentTemplate(room.AssignedTo) {
				globals.AppLogger.Warn("unknown agent template, auto-replies will stay off", "template", room.AssignedTo)
			}
			if err := persister.CreateRoom(&room); err != nil {
				globals.AppLogger.Error("could not create room", "error", err)
				return
			}
			r, err := json.Marshal(room)
			if err != nil {
				globals.AppLogger.Error("could not marshal room", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdRotateInvite = &cobra.Command{
		Use:   "rotate-invite [room id]",
		Short: "Rotate a room's invite token",
		Long:  `rotate-invite replaces the invite token of a room and prints the new one. Pending join requests stay valid.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			token, err := persister.RotateInviteToken(args[0])
			if err != nil {
				globals.AppLogger.Error("could not rotate invite token", "error", err)
				return
			}
			fmt.Println(token)
		},
	}
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "Create/update room or agent template",
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room definition]",
		Short: "Set room",
		Long:  `set room creates or updates a room from a JSON definition. If the definition is "-", it is read from STDIN.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			dec := json.NewDecoder(r)
			room := types.Room{}
			if err := dec.Decode(&room); err != nil {
				globals.AppLogger.Error("could not decode room", "error", err)
				return
			}
			if room.Id == "" {
				globals.AppLogger.Error("no room id")
				return
			}
			if err := persister.StoreRoom(room); err != nil {
				globals.AppLogger.Error("could not store room", "error", err)
				return
			}
		},
	}
	var cmdSetAgent = &cobra.Command{
		Use:   "agent [agent definition]",
		Short: "Set agent template",
		Long:  `set agent creates or updates an agent persona from a JSON definition. If the definition is "-", it is read from STDIN.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			dec := json.NewDecoder(r)
			tpl := types.AgentTemplate{}
			if err := dec.Decode(&tpl); err != nil {
				globals.AppLogger.Error("could not decode agent template", "error", err)
				return
			}
			if tpl.Template == "" {
				globals.AppLogger.Error("no template key")
				return
			}
			if !types.IsAgentTemplate(tpl.Template) {
				globals.AppLogger.Warn("unknown agent template key", "template", tpl.Template)
			}
			if err := persister.StoreAgentTemplate(tpl); err != nil {
				globals.AppLogger.Error("could not store agent template", "error", err)
				return
			}
		},
	}

	cmdCreateRoom.Flags().StringVar(&roomName, "name", "", "room name")
	cmdCreateRoom.Flags().StringVar(&roomDescription, "description", "", "room description")
	cmdCreateRoom.Flags().IntVar(&maxUsers, "max-users", 2, "maximum number of distinct participants")
	cmdCreateRoom.Flags().StringVar(&createdBy, "created-by", "", "display name of the room creator")
	cmdCreateRoom.Flags().StringVar(&assignedTo, "assign", "", "agent template answering in this room")

	var rootCmd = &cobra.Command{Use: "negochat-admin"}
	rootCmd.AddCommand(cmdShow)
	rootCmd.AddCommand(cmdCreateRoom)
	rootCmd.AddCommand(cmdRotateInvite)
	rootCmd.AddCommand(cmdSet)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowAgent)
	cmdSet.AddCommand(cmdSetRoom, cmdSetAgent)
	_ = rootCmd.Execute()
}
