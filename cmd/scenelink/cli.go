package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/scenelink/scenelink/internal/api"
	"github.com/scenelink/scenelink/internal/codec"
	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/engine"
	"github.com/scenelink/scenelink/internal/external"
	"github.com/scenelink/scenelink/internal/store"
	"github.com/scenelink/scenelink/internal/viewer"
	"github.com/scenelink/scenelink/pkg/core"
)

var errUsage = errors.New("bad arguments")

// sceneService is what the authoring commands need, served either by the
// local store or by a remote server.
type sceneService interface {
	List(ctx context.Context) (api.Collection, error)
	Save(ctx context.Context, d core.SceneDescriptor) (api.Collection, error)
	Delete(ctx context.Context, id core.ID) (api.Collection, error)
	Import(ctx context.Context, r io.Reader) (api.Collection, error)
	Bind(ctx context.Context, path string) (api.Collection, error)
	Flush(ctx context.Context) (api.FlushResult, error)
	Export(ctx context.Context, w io.Writer) error
}

type localScenes struct {
	s *store.Store
}

func (l localScenes) collection(scenes []core.SceneDescriptor) api.Collection {
	return api.Collection{Scenes: scenes, Version: l.s.Version(), Bound: l.s.BoundName()}
}

func (l localScenes) List(context.Context) (api.Collection, error) {
	return l.collection(l.s.ListAll()), nil
}

func (l localScenes) Save(ctx context.Context, d core.SceneDescriptor) (api.Collection, error) {
	scenes, err := l.s.Upsert(ctx, d)
	if err != nil {
		return api.Collection{}, err
	}
	return l.collection(scenes), nil
}

func (l localScenes) Delete(ctx context.Context, id core.ID) (api.Collection, error) {
	scenes, err := l.s.DeleteByID(ctx, id)
	if err != nil {
		return api.Collection{}, err
	}
	return l.collection(scenes), nil
}

func (l localScenes) Import(ctx context.Context, r io.Reader) (api.Collection, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return api.Collection{}, err
	}
	scenes, err := l.s.Import(ctx, raw)
	if err != nil {
		return api.Collection{}, err
	}
	return l.collection(scenes), nil
}

func (l localScenes) Bind(ctx context.Context, path string) (api.Collection, error) {
	scenes, err := l.s.BindGranted(ctx, external.PathGranter(OsFs, path))
	if err != nil {
		return api.Collection{}, err
	}
	return l.collection(scenes), nil
}

func (l localScenes) Flush(ctx context.Context) (api.FlushResult, error) {
	res, err := l.s.Flush(ctx)
	if err != nil {
		return api.FlushResult{}, err
	}
	return api.FlushResult{Bound: res.Bound, Target: res.Target, Path: res.Path}, nil
}

func (l localScenes) Export(_ context.Context, w io.Writer) error {
	data, err := l.s.Snapshot()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

type remoteScenes struct {
	*api.Client
}

// Save always overwrites; the CLI does not track collection versions.
func (r remoteScenes) Save(ctx context.Context, d core.SceneDescriptor) (api.Collection, error) {
	return r.Client.Save(ctx, d, 0)
}

func dispatch(ctx context.Context, command string, args []string, server string) error {
	switch command {
	case "serve":
		return serve(ctx)
	case "view":
		return view(ctx, args)
	}

	var svc sceneService
	if server != "" {
		c := api.New(server)
		if err := c.Healthcheck(ctx); err != nil {
			return err
		}
		Logger.Debug("Using remote server", "url", server)
		svc = remoteScenes{c}
	} else {
		s, closeStore, err := openStore(ctx, nil)
		if err != nil {
			return err
		}
		defer closeStore()
		if mutates(command) && config.GetStorageConfig().Type == "memory" {
			Logger.Warn("Memory cache is dropped on exit, changes will not be kept", "command", command)
			fmt.Fprintln(os.Stderr, "warning: --storage memory does not keep changes between runs")
		}
		svc = localScenes{s}
	}

	switch command {
	case "list":
		return list(ctx, svc, os.Stdout)
	case "save":
		return save(ctx, svc, args, os.Stdout)
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("%w: delete <id>", errUsage)
		}
		col, err := svc.Delete(ctx, core.ID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d scenes\n", len(col.Scenes))
		return nil
	case "import":
		return importFile(ctx, svc, args, os.Stdout)
	case "bind":
		if len(args) != 1 {
			return fmt.Errorf("%w: bind <file>", errUsage)
		}
		col, err := svc.Bind(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "bound %s, %d scenes\n", col.Bound, len(col.Scenes))
		return nil
	case "export":
		return export(ctx, svc, args, os.Stdout)
	case "link":
		return link(ctx, svc, args, os.Stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

// mutates reports whether command changes the collection.
func mutates(command string) bool {
	switch command {
	case "save", "delete", "import", "bind":
		return true
	}
	return false
}

func list(ctx context.Context, svc sceneService, out io.Writer) error {
	col, err := svc.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODEL\tCREATED")
	for _, d := range col.Scenes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.ModelType, d.CreatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if col.Bound != "" {
		fmt.Fprintf(out, "\nbound to %s\n", col.Bound)
	}
	return nil
}

// sceneFlags parses the authoring form. Unset fields keep the values of the
// existing scene when --id names one.
func sceneFlags(args []string) (*pflag.FlagSet, error) {
	flags := pflag.NewFlagSet("save", pflag.ContinueOnError)
	flags.String("id", "", "update the scene with this id")
	flags.String("name", "", "scene name (required)")
	flags.String("description", "", `narrative text, one line per "\n"`)
	flags.String("model", string(core.ModelBox), "box, sphere, cylinder, cone, torus or custom")
	flags.String("model-url", "", "glTF URL for custom models")
	flags.String("position", core.DefaultPosition, `"x y z"`)
	flags.String("rotation", core.DefaultRotation, `"x y z" in degrees`)
	flags.String("scale", core.DefaultScale, `"x y z"`)
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return flags, nil
}

func save(ctx context.Context, svc sceneService, args []string, out io.Writer) error {
	flags, err := sceneFlags(args)
	if err != nil {
		return err
	}
	get := func(name string) string {
		v, _ := flags.GetString(name)
		return v
	}

	d := core.NewDescriptor()
	if id := get("id"); id != "" {
		col, err := svc.List(ctx)
		if err != nil {
			return err
		}
		for _, existing := range col.Scenes {
			if existing.ID == core.ID(id) {
				d = existing
				break
			}
		}
		d.ID = core.ID(id)
	}

	fields := map[string]*string{
		"name":        &d.Name,
		"description": &d.Description,
		"model-url":   &d.ModelURL,
		"position":    &d.Position,
		"rotation":    &d.Rotation,
		"scale":       &d.Scale,
	}
	for name, dst := range fields {
		if flags.Changed(name) || *dst == "" {
			*dst = get(name)
		}
	}
	d.Description = strings.ReplaceAll(d.Description, `\n`, "\n")
	if flags.Changed("model") || d.ModelType == "" {
		d.ModelType = core.ModelType(get("model"))
	}

	col, err := svc.Save(ctx, d)
	if err != nil {
		return err
	}
	saved := col.Scenes[len(col.Scenes)-1]
	if d.ID != "" {
		for _, s := range col.Scenes {
			if s.ID == d.ID {
				saved = s
			}
		}
	}
	fmt.Fprintf(out, "saved %s\n%s\n", saved.ID, saved.FullURL)
	return nil
}

func importFile(ctx context.Context, svc sceneService, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: import <file>", errUsage)
	}
	f, err := OsFs.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	col, err := svc.Import(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d scenes\n", len(col.Scenes))
	return nil
}

func export(ctx context.Context, svc sceneService, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
	toStdout := flags.Bool("stdout", false, "print the snapshot instead of writing the export file")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *toStdout {
		return svc.Export(ctx, out)
	}

	res, err := svc.Flush(ctx)
	if err != nil {
		return err
	}
	if res.Bound {
		fmt.Fprintf(out, "saved to %s\n", res.Target)
	} else {
		fmt.Fprintf(out, "exported to %s\n", res.Path)
	}
	return nil
}

// link prints the stored link of a scene, rebuilt under the configured base
// URL when --base-url differs from the one it was saved with.
func link(ctx context.Context, svc sceneService, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: link <id>", errUsage)
	}
	col, err := svc.List(ctx)
	if err != nil {
		return err
	}
	for _, d := range col.Scenes {
		if d.ID != core.ID(args[0]) {
			continue
		}
		base := viper.GetString("link.baseUrl")
		if base == "" || strings.HasPrefix(d.FullURL, base+"?") {
			fmt.Fprintln(out, d.FullURL)
			return nil
		}
		u, err := codec.Link(base, d)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, u)
		return nil
	}
	return fmt.Errorf("scene %s not found", args[0])
}

// view opens a viewer session for a shared link and drives it from line
// commands on stdin. Frames are written to stdout as JSON lines.
func view(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: view <link>", errUsage)
	}

	stream, err := engine.New(os.Stdout, Logger)
	if err != nil {
		return err
	}
	defer stream.Close()

	lock := viewer.LockHost{FS: OsFs, Path: viper.GetString("viewer.lockPath")}
	session, err := viewer.Open(args[0], stream,
		viewer.WithHosts(lock),
		viewer.WithDragSpeed(viper.GetFloat64("viewer.dragSpeed")),
		viewer.WithLogger(Logger),
	)
	if err != nil {
		return err
	}
	defer session.Close()
	stream.Control(session.Machine())

	err = stream.Run(ctx, os.Stdin)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
