package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	log "github.com/junbin-yang/coapd/pkg/utils/logger"
	"gopkg.in/yaml.v2"
)

var (
	APPNAME    string = "coapd"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
	GO_VERSION string = "undefined"
)

// Config is coapd's on-disk configuration, covering the bind address,
// RFC 7252 transmission parameters, block-wise defaults, and logging.
type Config struct {
	Bind struct {
		Address string
		Port    int
	}
	Transmission struct {
		AckTimeoutMillis   int
		AckRandomFactorNum int
		AckRandomFactorDen int
		MaxRetransmit      int
	}
	MaxBlockSZX     uint8
	MaxCachedReqs   int
	MulticastGroup  string
	MulticastIface  string
	Logger          struct {
		Dir    string
		Level  string
		Rotate bool
	}
}

// Default returns coapd's built-in defaults, used when no config file is
// found, matching RFC 7252's default transmission parameters.
func Default() *Config {
	c := &Config{}
	c.Bind.Address = "::"
	c.Bind.Port = 5683
	c.Transmission.AckTimeoutMillis = 2000
	c.Transmission.AckRandomFactorNum = 3
	c.Transmission.AckRandomFactorDen = 2
	c.Transmission.MaxRetransmit = 4
	c.MaxBlockSZX = 6
	c.MaxCachedReqs = 64
	c.MulticastGroup = "FF02::FD"
	c.Logger.Level = "info"
	return c
}

// AckTimeout converts Transmission.AckTimeoutMillis to a time.Duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Transmission.AckTimeoutMillis) * time.Millisecond
}

func init() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stdout, APPNAME+", version: "+VERSION+" (built at "+BUILD_TIME+") "+GO_VERSION)
		flag.PrintDefaults()
	}
	flag.Parse()
}

// Parse loads coapd's YAML config from alongside the executable, or
// /etc/coapd.yml, overlaying it on Default(), and wires up logging per
// its Logger section.
func Parse() *Config {
	ex, e := os.Executable()
	if e != nil {
		panic(e)
	}

	cfile := filepath.Dir(ex) + "/" + APPNAME + ".yml"
	if _, err := os.Stat(cfile); os.IsNotExist(err) {
		cfile = "/etc/" + APPNAME + ".yml"
	}

	conf := Default()
	if data, err := ioutil.ReadFile(cfile); err == nil {
		if err := yaml.Unmarshal(data, conf); err != nil {
			panic(err)
		}
	}

	defer log.Sync()
	if conf.Logger.Rotate {
		if len(conf.Logger.Dir) == 0 {
			conf.Logger.Dir = filepath.Dir(ex)
		}
		out := log.NewProductionRotateByTime(conf.Logger.Dir + "/" + APPNAME + ".log")
		logger := log.New(out, log.InfoLevel)
		log.ReplaceDefault(logger)
	}
	switch conf.Logger.Level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	return conf
}
