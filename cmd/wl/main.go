// wl is the Wildland client CLI: key management, manifest signing and
// verification, path resolution, and mounting the composed filesystem.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"wildland.io/core/composer"
	wlfuse "wildland.io/core/composer/fuse"
	"wildland.io/core/config"
	"wildland.io/core/keys"
	"wildland.io/core/manifest"
	"wildland.io/core/resolver"
	"wildland.io/core/wlpath"

	_ "wildland.io/core/storage/archivefs"
	_ "wildland.io/core/storage/categorization"
	_ "wildland.io/core/storage/delegatefs"
	_ "wildland.io/core/storage/grpcfs"
	_ "wildland.io/core/storage/local"
	_ "wildland.io/core/storage/staticfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "manifest":
		return cmdManifest(args[1:], out, errOut)
	case "resolve":
		return cmdResolve(args[1:], out, errOut)
	case "cat":
		return cmdCat(args[1:], out, errOut)
	case "put":
		return cmdPut(args[1:], out, errOut)
	case "mount":
		return cmdMount(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "wl: Wildland client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  wl key init [--algorithm ed25519|dilithium3]")
	fmt.Fprintln(w, "  wl key list")
	fmt.Fprintln(w, "  wl key fingerprint <public-key>")
	fmt.Fprintln(w, "  wl manifest sign [--key <fingerprint>] [--output <file>] <file>")
	fmt.Fprintln(w, "  wl manifest verify [--trusted-owner <fingerprint>] <file>")
	fmt.Fprintln(w, "  wl manifest dump <file>")
	fmt.Fprintln(w, "  wl resolve <wildland-path>")
	fmt.Fprintln(w, "  wl cat <wildland-path>")
	fmt.Fprintln(w, "  wl put [--input <file>] <wildland-path>")
	fmt.Fprintln(w, "  wl mount [--mountpoint <dir>] [--allow-other] <wildland-path> [...]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts --config <file>. Without it the client reads")
	fmt.Fprintln(w, "~/.wildland/config.yaml when present and falls back to defaults")
	fmt.Fprintln(w, "rooted at ~/.wildland.")
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wildland"
	}
	return filepath.Join(home, ".wildland")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	base := defaultBaseDir()
	p := filepath.Join(base, "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return config.Load(p)
	}
	return config.Default(base), nil
}

func openStore(cfg *config.Config) (*keys.Store, error) {
	return keys.OpenStore(cfg.KeyDir)
}

// httpFetch retrieves remote manifests for @hint and url references.
func httpFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// newSession assembles a resolver session from the configuration: the
// keystore supplies trust roots, the manifest directories the local
// library.
func newSession(cfg *config.Config, errOut io.Writer) (*resolver.Session, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	lib := resolver.NewLibrary(resolver.StoreKeys(store))
	for _, dir := range cfg.ManifestDirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := lib.LoadDir(dir); err != nil {
			fmt.Fprintf(errOut, "warning: %v\n", err)
		}
	}
	return resolver.New(lib, resolver.Options{Config: cfg, Fetch: httpFetch}), nil
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: wl key <init|list|fingerprint> ...")
		return 2
	}
	switch args[0] {
	case "init":
		fs := pflag.NewFlagSet("key init", pflag.ContinueOnError)
		fs.SetOutput(errOut)
		algorithm := fs.String("algorithm", "ed25519", "signature algorithm")
		configPath := fs.String("config", "", "config file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(errOut, "config: %v\n", err)
			return 1
		}
		store, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(errOut, "keystore: %v\n", err)
			return 1
		}
		kp, err := store.Generate(keys.Algorithm(*algorithm))
		if err != nil {
			fmt.Fprintf(errOut, "generate: %v\n", err)
			return 1
		}
		fmt.Fprintln(out, kp.Fingerprint())
		return 0
	case "list":
		fs := pflag.NewFlagSet("key list", pflag.ContinueOnError)
		fs.SetOutput(errOut)
		configPath := fs.String("config", "", "config file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(errOut, "config: %v\n", err)
			return 1
		}
		store, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(errOut, "keystore: %v\n", err)
			return 1
		}
		fps, err := store.List()
		if err != nil {
			fmt.Fprintf(errOut, "list: %v\n", err)
			return 1
		}
		for _, fp := range fps {
			fmt.Fprintln(out, fp)
		}
		return 0
	case "fingerprint":
		fs := pflag.NewFlagSet("key fingerprint", pflag.ContinueOnError)
		fs.SetOutput(errOut)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(errOut, "usage: wl key fingerprint <public-key>")
			return 2
		}
		pk, err := keys.ParsePublicKey(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "fingerprint: %v\n", err)
			return 1
		}
		fmt.Fprintln(out, pk.Fingerprint())
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n", args[0])
		return 2
	}
}

func cmdManifest(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: wl manifest <sign|verify|dump> ...")
		return 2
	}
	switch args[0] {
	case "sign":
		fs := pflag.NewFlagSet("manifest sign", pflag.ContinueOnError)
		fs.SetOutput(errOut)
		keyFP := fs.String("key", "", "signing key fingerprint (default: the manifest owner)")
		output := fs.String("output", "", "write the signed manifest here instead of stdout")
		configPath := fs.String("config", "", "config file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(errOut, "usage: wl manifest sign [--key <fingerprint>] <file>")
			return 2
		}
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "read manifest: %v\n", err)
			return 1
		}
		_, body, err := manifest.Split(data)
		if err != nil {
			fmt.Fprintf(errOut, "parse manifest: %v\n", err)
			return 1
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(errOut, "config: %v\n", err)
			return 1
		}
		store, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(errOut, "keystore: %v\n", err)
			return 1
		}
		fp := *keyFP
		if fp == "" {
			m, err := manifest.Parse(append([]byte("---\n"), body...))
			if err != nil {
				fmt.Fprintf(errOut, "parse manifest: %v\n", err)
				return 1
			}
			fp = m.Owner
		}
		kp, err := store.Load(fp)
		if err != nil {
			fmt.Fprintf(errOut, "load key %s: %v\n", fp, err)
			return 1
		}
		signed, err := manifest.Sign(body, kp)
		if err != nil {
			fmt.Fprintf(errOut, "sign: %v\n", err)
			return 1
		}
		if *output != "" {
			if err := os.WriteFile(*output, signed, 0o644); err != nil {
				fmt.Fprintf(errOut, "write %s: %v\n", *output, err)
				return 1
			}
			return 0
		}
		_, _ = out.Write(signed)
		return 0
	case "verify", "dump":
		fs := pflag.NewFlagSet("manifest "+args[0], pflag.ContinueOnError)
		fs.SetOutput(errOut)
		trustedOwner := fs.String("trusted-owner", "", "accept unsigned manifests of this owner")
		configPath := fs.String("config", "", "config file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintf(errOut, "usage: wl manifest %s <file>\n", args[0])
			return 2
		}
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "read manifest: %v\n", err)
			return 1
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(errOut, "config: %v\n", err)
			return 1
		}
		store, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(errOut, "keystore: %v\n", err)
			return 1
		}
		m, err := manifest.Load(data, manifest.TrustContext{
			Keys:         resolver.StoreKeys(store),
			TrustedOwner: *trustedOwner,
		})
		if err != nil {
			fmt.Fprintf(errOut, "verify: %v\n", err)
			return 1
		}
		if args[0] == "dump" {
			_, _ = out.Write(m.Body)
			return 0
		}
		status := "signed"
		if m.Unsigned {
			status = "unsigned, accepted from trusted owner"
		}
		fmt.Fprintf(out, "%s %s (%s)\n", m.Kind, m.Owner, status)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown manifest subcommand: %s\n", args[0])
		return 2
	}
}

func cmdResolve(args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: wl resolve <wildland-path>")
		return 2
	}
	p, err := wlpath.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 2
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 1
	}
	session, err := newSession(cfg, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "session: %v\n", err)
		return 1
	}
	matches, err := session.Resolve(context.Background(), resolver.Request{Path: *p})
	if err != nil {
		fmt.Fprintf(errOut, "resolve: %v\n", err)
		return 1
	}
	for _, m := range matches {
		switch {
		case m.Container != nil:
			storageType := ""
			if m.Storage != nil {
				storageType = m.Storage.Type
			}
			fmt.Fprintf(out, "container %s %s storage=%s\n",
				m.Owner, firstNamespacePath(m.Container.Paths), storageType)
		case m.Bridge != nil:
			fmt.Fprintf(out, "bridge %s %s\n", m.Owner, firstNamespacePath(m.Bridge.Paths))
		}
	}
	return 0
}

func firstNamespacePath(paths []string) string {
	if len(paths) == 0 {
		return "?"
	}
	return paths[0]
}

func cmdCat(args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("cat", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: wl cat <wildland-path>")
		return 2
	}
	p, err := wlpath.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 2
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 1
	}
	session, err := newSession(cfg, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "session: %v\n", err)
		return 1
	}
	data, err := session.ReadFile(context.Background(), *p)
	if err != nil {
		fmt.Fprintf(errOut, "cat: %v\n", err)
		return 1
	}
	_, _ = out.Write(data)
	return 0
}

func cmdPut(args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("put", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	input := fs.String("input", "", "read content from this file instead of stdin")
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: wl put [--input <file>] <wildland-path>")
		return 2
	}
	p, err := wlpath.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 2
	}
	var data []byte
	if *input != "" {
		data, err = os.ReadFile(*input)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 1
	}
	session, err := newSession(cfg, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "session: %v\n", err)
		return 1
	}
	if err := session.WriteFile(context.Background(), *p, data); err != nil {
		fmt.Fprintf(errOut, "put: %v\n", err)
		return 1
	}
	return 0
}

func cmdMount(args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	mountpoint := fs.String("mountpoint", "", "mount directory (default: mount-dir from config)")
	allowOther := fs.Bool("allow-other", false, "permit other users to access the mount")
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: wl mount [--mountpoint <dir>] <wildland-path> [...]")
		return 2
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 1
	}
	if *mountpoint == "" {
		*mountpoint = cfg.MountDir
	}
	logger := slog.New(slog.NewTextHandler(errOut, nil))
	session, err := newSession(cfg, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "session: %v\n", err)
		return 1
	}

	table := composer.NewTable(composer.Options{Logger: logger})
	ctx := context.Background()
	seen := map[string]bool{}
	for _, raw := range fs.Args() {
		p, err := wlpath.Parse(raw)
		if err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return 2
		}
		matches, err := session.Resolve(ctx, resolver.Request{Path: *p})
		if err != nil {
			fmt.Fprintf(errOut, "resolve %s: %v\n", raw, err)
			return 1
		}
		mounted := 0
		for _, m := range matches {
			if m.Backend == nil || m.Container == nil {
				continue
			}
			key := m.Owner + firstNamespacePath(m.Container.Paths)
			if up := m.Container.UUIDPath(); up != "" {
				key = m.Owner + up
			}
			if seen[key] {
				mounted++
				continue
			}
			seen[key] = true
			readOnly := m.Storage != nil && m.Storage.ReadOnly
			id, err := table.Add(m.Container.ExpandedPaths(), m.Backend, readOnly)
			if err != nil {
				fmt.Fprintf(errOut, "mount %s: %v\n", raw, err)
				return 1
			}
			logger.Info("container mounted", "id", id, "owner", m.Owner,
				"path", firstNamespacePath(m.Container.Paths))
			mounted++
		}
		if mounted == 0 {
			fmt.Fprintf(errOut, "mount %s: no mountable containers\n", raw)
			return 1
		}
	}

	server, err := wlfuse.Mount(wlfuse.Options{
		Mountpoint: *mountpoint,
		Table:      table,
		AllowOther: *allowOther,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(errOut, "mount: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "mounted at %s\n", *mountpoint)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("unmounting")
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}()
	server.Wait()
	session.Refresh()
	return 0
}
