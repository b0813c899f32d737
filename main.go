package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/iosdbg/iosdbg/config"
	"github.com/iosdbg/iosdbg/ios"
	"github.com/iosdbg/iosdbg/ios/debugserver"
	"github.com/iosdbg/iosdbg/ios/forward"
	"github.com/iosdbg/iosdbg/ios/sshconn"
	log "github.com/sirupsen/logrus"
)

//JSONdisabled enables or disables output in JSON format
var JSONdisabled = false

//waitForDevice makes commands block until the device is attached instead of failing
var waitForDevice = false

func main() {
	Main()
}

const version = "local-build"

// Main Exports main for testing
func Main() {
	usage := fmt.Sprintf(`iosdbg %s

Usage:
  iosdbg list [options]
  iosdbg deploy [options]
  iosdbg spawn <path> [--port=<port>] [--forward] [options]
  iosdbg attach <target> [--port=<port>] [--forward] [options]
  iosdbg backboard <path> [--port=<port>] [--forward] [options]
  iosdbg iproxy <source> <destination> [--usbmux] [options]
  iosdbg -h | --help
  iosdbg --version | version [options]

Options:
  -v --verbose          Enable Debug Logging.
  -t --trace            Enable Trace Logging (dump every message).
  --nojson              Disable JSON output (default).
  -h --help             Show this screen.
  --udid=<udid>         UDID of the device.
  --config=<file>       YAML config file, defaults to ~/.iosdbg.yaml.
  --host=<host>         Connect to sshd over the network instead of usbmuxd.
  --timeout=<duration>  Give up deploying and launching after this long, e.g. 2m.
  --wait                Wait for the device to be attached.

The commands work as following:
	The default output of all commands is JSON. Should you prefer human readable outout, specify the --nojson option with your command.
	By default, the first device found will be used for a command unless you specify a --udid=some_udid switch.
	Specify -v for debug logging and -t for dumping every message.

   iosdbg list [options]                                 Prints a list of all connected device's udids.
   iosdbg deploy [options]                               Installs and signs debugserver on the device and prints its path.
   iosdbg spawn <path> [--port=<port>] [--forward]       Deploys debugserver and launches <path> under it. debugserver listens on 127.1:<port> on the device.
                                                         --forward also forwards <port> on this host to it.
   iosdbg attach <target> [--port=<port>] [--forward]    Same as spawn but attaches to a running process, <target> is a pid or a process name.
   iosdbg backboard <path> [--port=<port>] [--forward]   Same as spawn but launches through backboardd, needed for UI apps.
   iosdbg iproxy <source> <destination> [--usbmux]       Forwards TCP connections on host port <source> to port <destination> on the device.
                                                         Tunnels through SSH unless --usbmux is given.
   iosdbg -h | --help                                    Prints this screen.
   iosdbg --version | version [options]                  Prints the version

  `, version)
	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatal(err)
	}
	disableJSON, _ := arguments.Bool("--nojson")
	if disableJSON {
		JSONdisabled = true
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}

	traceLevelEnabled, _ := arguments.Bool("--trace")
	if traceLevelEnabled {
		log.Info("Set Trace mode")
		log.SetLevel(log.TraceLevel)
	} else {
		verboseLoggingEnabledLong, _ := arguments.Bool("--verbose")
		if verboseLoggingEnabledLong {
			log.Info("Set Debug mode")
			log.SetLevel(log.DebugLevel)
		}
	}
	log.Debug(arguments)

	shouldPrintVersionNoDashes, _ := arguments.Bool("version")
	shouldPrintVersion, _ := arguments.Bool("--version")
	if shouldPrintVersionNoDashes || shouldPrintVersion {
		printVersion()
		return
	}

	b, _ := arguments.Bool("list")
	if b {
		printDeviceList()
		return
	}

	var cfg *config.Config
	if configPath, _ := arguments.String("--config"); configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		failWithError("failed loading config", err)
	}
	if host, _ := arguments.String("--host"); host != "" {
		cfg.SSH.Host = host
	}
	udid, _ := arguments.String("--udid")
	waitForDevice, _ = arguments.Bool("--wait")

	b, _ = arguments.Bool("iproxy")
	if b {
		source, _ := arguments.String("<source>")
		destination, _ := arguments.String("<destination>")
		hostPort, phonePort, err := forward.ParsePorts(source, destination)
		if err != nil {
			failWithError("invalid port", err)
		}
		useUsbmux, _ := arguments.Bool("--usbmux")
		startForwarding(cfg, udid, useUsbmux, hostPort, phonePort)
		return
	}

	timeout, err := parseTimeout(arguments)
	if err != nil {
		failWithError("invalid --timeout", err)
	}

	b, _ = arguments.Bool("deploy")
	if b {
		client := connect(cfg, udid)
		defer client.Close()
		ctx, cancel := deadline(timeout)
		defer cancel()
		binary, err := deploy(ctx, client, cfg)
		if err != nil {
			failWithError("deploying debugserver failed", err)
		}
		printBinary(binary)
		return
	}

	port := cfg.Debugserver.Port
	if portString, _ := arguments.String("--port"); portString != "" {
		port, err = strconv.Atoi(portString)
		if err != nil || port <= 0 || port > 65535 {
			failWithError("invalid --port", fmt.Errorf("%q is not a port", portString))
		}
	}
	forwardPort, _ := arguments.Bool("--forward")

	var launch func(ctx context.Context, l *debugserver.Launcher) (io.ReadWriteCloser, error)
	if b, _ = arguments.Bool("spawn"); b {
		path, _ := arguments.String("<path>")
		launch = func(ctx context.Context, l *debugserver.Launcher) (io.ReadWriteCloser, error) {
			return l.Spawn(ctx, path, port)
		}
	}
	if b, _ = arguments.Bool("attach"); b {
		target, _ := arguments.String("<target>")
		launch = func(ctx context.Context, l *debugserver.Launcher) (io.ReadWriteCloser, error) {
			return l.Attach(ctx, target, port)
		}
	}
	if b, _ = arguments.Bool("backboard"); b {
		path, _ := arguments.String("<path>")
		launch = func(ctx context.Context, l *debugserver.Launcher) (io.ReadWriteCloser, error) {
			return l.Backboard(ctx, path, port)
		}
	}
	if launch != nil {
		runDebugserver(cfg, udid, timeout, port, forwardPort, launch)
	}
}

func parseTimeout(arguments docopt.Opts) (time.Duration, error) {
	s, _ := arguments.String("--timeout")
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func deadline(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func printVersion() {
	versionMap := map[string]interface{}{
		"version": version,
	}
	if JSONdisabled {
		fmt.Println(version)
	} else {
		fmt.Println(convertToJSONString(versionMap))
	}
}

func printDeviceList() {
	deviceList, err := ios.ListDevices()
	if err != nil {
		failWithError("failed getting device list", err)
	}
	if JSONdisabled {
		fmt.Print(deviceList.String())
	} else {
		fmt.Println(convertToJSONString(deviceList.CreateMapForJSONConverter()))
	}
}

func printBinary(binary debugserver.RemoteBinary) {
	if JSONdisabled {
		fmt.Println(binary.RemotePath)
	} else {
		fmt.Println(convertToJSONString(map[string]interface{}{
			"path":   binary.RemotePath,
			"signed": binary.Signed,
		}))
	}
}

// connect dials sshd over the network if a host is configured, otherwise through usbmuxd.
func connect(cfg *config.Config, udid string) *sshconn.Client {
	if cfg.SSH.Host != "" {
		client, err := sshconn.DialTCP(cfg.SSH.Host, cfg.SSHConfig())
		if err != nil {
			failWithError("ssh connection failed", err)
		}
		return client
	}
	device := getDevice(udid)
	client, err := sshconn.Dial(device, cfg.SSHConfig())
	if err != nil {
		failWithError("ssh connection failed", err)
	}
	return client
}

func getDevice(udid string) ios.DeviceEntry {
	if waitForDevice {
		if udid == "" {
			udid = os.Getenv("udid")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		device, err := ios.WaitForDevice(ctx, udid)
		if err != nil {
			failWithError("device did not show up", err)
		}
		return device
	}
	device, err := ios.GetDevice(udid)
	if err != nil {
		failWithError("error getting devicelist", err)
	}
	return device
}

func deploy(ctx context.Context, client *sshconn.Client, cfg *config.Config) (debugserver.RemoteBinary, error) {
	productVersion, err := client.ProductVersion(ctx)
	if err != nil {
		return debugserver.RemoteBinary{}, err
	}
	log.WithFields(log.Fields{"version": productVersion}).Info("device connected")
	deployer := debugserver.NewDeployer(client, runtime.GOOS, cfg.DebugserverOptions())
	return deployer.Deploy(ctx, productVersion, runtime.GOOS)
}

func runDebugserver(cfg *config.Config, udid string, timeout time.Duration, port int, forwardPort bool,
	launch func(ctx context.Context, l *debugserver.Launcher) (io.ReadWriteCloser, error)) {
	client := connect(cfg, udid)
	defer client.Close()

	ctx, cancel := deadline(timeout)
	binary, err := deploy(ctx, client, cfg)
	if err != nil {
		cancel()
		failWithError("deploying debugserver failed", err)
	}
	launcher := &debugserver.Launcher{Remote: client, Binary: binary.RemotePath, Address: cfg.Debugserver.Address}
	stream, err := launch(ctx, launcher)
	cancel()
	if err != nil {
		failWithError("launching debugserver failed", err)
	}
	defer stream.Close()
	log.WithFields(log.Fields{"port": port}).Info("debugserver is ready")

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if forwardPort {
		go func() {
			err := forward.Forward(sigCtx, client, uint16(port), uint16(port))
			if err != nil {
				log.WithFields(log.Fields{"err": err}).Error("forwarding debugserver port failed")
			}
		}()
	}
	go func() {
		logRemoteOutput(stream)
		stop()
	}()
	<-sigCtx.Done()
	log.Info("Shutting down debugserver")
}

func logRemoteOutput(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			log.WithFields(log.Fields{"remote": "debugserver"}).Info(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func startForwarding(cfg *config.Config, udid string, useUsbmux bool, hostPort uint16, phonePort uint16) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opener forward.ChannelOpener
	if useUsbmux {
		opener = ios.UsbmuxOpener{Device: getDevice(udid)}
	} else {
		client := connect(cfg, udid)
		defer client.Close()
		opener = client
	}
	if err := forward.Forward(ctx, opener, hostPort, phonePort); err != nil {
		failWithError("forwarding failed", err)
	}
}

func convertToJSONString(data interface{}) string {
	b, err := json.Marshal(data)
	if err != nil {
		fmt.Println(err)
		return ""
	}
	return string(b)
}

func failWithError(msg string, err error) {
	log.WithFields(log.Fields{"err": err}).Fatalf(msg)
}
