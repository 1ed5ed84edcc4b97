// Command amp-containers runs the container-tool MCP server over stdio,
// wiring config, logging and the toolserver.Core the way the teacher's
// main.go wires config.NewAppConfig into app.NewApp.
package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/amp-tools/container-tool/pkg/config"
	"github.com/amp-tools/container-tool/pkg/toolserver"
	"github.com/amp-tools/container-tool/pkg/utils"
	"github.com/integrii/flaggy"
	"github.com/jesseduffield/yaml"
	"github.com/sirupsen/logrus"
)

const defaultVersion = "unversioned"

var (
	commit  string
	version = defaultVersion
	date    string

	configFlag    = false
	debuggingFlag = false
	configPath    = ""
)

func main() {
	updateBuildInfo()

	info := fmt.Sprintf("%s\nDate: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, commit, runtime.GOOS, runtime.GOARCH)

	flaggy.SetName("amp-containers")
	flaggy.SetDescription("Agent-facing container orchestration over docker/podman")
	flaggy.Bool(&configFlag, "c", "config", "Print the current default config")
	flaggy.Bool(&debuggingFlag, "d", "debug", "Enable debug logging")
	flaggy.String(&configPath, "f", "file", "Path to a YAML config file")
	flaggy.SetVersion(info)
	flaggy.Parse()

	if configFlag {
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		if err := encoder.Encode(config.Default()); err != nil {
			log.Fatal(err.Error())
		}
		fmt.Printf("%v\n", buf.String())
		os.Exit(0)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err.Error())
	}

	logger := newLogger(debuggingFlag)
	entry := logger.WithField("component", "amp-containers")

	core := toolserver.NewCore(cfg, entry)
	srv := toolserver.NewServer(core)

	if err := srv.ServeStdio(); err != nil {
		entry.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func newLogger(debugging bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debugging {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func updateBuildInfo() {
	if version != defaultVersion {
		return
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			version = utils.SafeTruncate(setting.Value, 7)
		case "vcs.time":
			date = setting.Value
		}
	}
}
