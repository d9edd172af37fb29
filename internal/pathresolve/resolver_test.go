package pathresolve

import "testing"

func TestResolve_Relative(t *testing.T) {
	r := New("/srv/project")
	got := r.Resolve("src/app.py")
	if got != "/srv/project/src/app.py" {
		t.Errorf("expected /srv/project/src/app.py, got %s", got)
	}
}

func TestResolve_AbsoluteIdempotent(t *testing.T) {
	r := New("/srv/project")
	first := r.Resolve("/etc/app.conf")
	second := r.Resolve(first)
	if first != "/etc/app.conf" {
		t.Errorf("absolute path changed: %s", first)
	}
	if first != second {
		t.Errorf("resolve not idempotent: %s vs %s", first, second)
	}
}

func TestResolve_ResolvedPathIsStable(t *testing.T) {
	r := New("/srv/project")
	once := r.Resolve("a/b.go")
	twice := r.Resolve(once)
	if once != twice {
		t.Errorf("expected %s, got %s", once, twice)
	}
}

func TestResolve_WindowsRoot(t *testing.T) {
	r := New(`C:\work\proj`)
	if r.Root() != "C:/work/proj" {
		t.Fatalf("expected forward-slash root, got %s", r.Root())
	}
	if got := r.Resolve(`api\auth.py`); got != "C:/work/proj/api/auth.py" {
		t.Errorf("unexpected resolution: %s", got)
	}
	if got := r.Resolve("D:/other/file.py"); got != "D:/other/file.py" {
		t.Errorf("drive path should be absolute: %s", got)
	}
}

func TestResolve_EmptyRoot(t *testing.T) {
	r := New("")
	if got := r.Resolve("x.py"); got != "x.py" {
		t.Errorf("expected pass-through, got %s", got)
	}
	var nilResolver *Resolver
	if got := nilResolver.Resolve("x.py"); got != "x.py" {
		t.Errorf("nil resolver should pass through, got %s", got)
	}
}

func TestResolveArgs(t *testing.T) {
	r := New("/srv/project")
	args := map[string]interface{}{
		"file_path":        "x.py",
		"config_file_path": "conf/app.yml",
		"keyword":          "password",
		"project_path":     nil,
		"dir_path":         42,
	}

	got := r.ResolveArgs(args)

	if got["file_path"] != "/srv/project/x.py" {
		t.Errorf("file_path not resolved: %v", got["file_path"])
	}
	if got["config_file_path"] != "/srv/project/conf/app.yml" {
		t.Errorf("config_file_path not resolved: %v", got["config_file_path"])
	}
	if got["keyword"] != "password" {
		t.Errorf("non-path argument changed: %v", got["keyword"])
	}
	if got["project_path"] != nil {
		t.Errorf("nil path argument should stay nil, got %v", got["project_path"])
	}
	if got["dir_path"] != 42 {
		t.Errorf("non-string path argument should pass through, got %v", got["dir_path"])
	}
	if args["file_path"] != "x.py" {
		t.Error("input map must not be mutated")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a := New("/one")
	b := New("/two")
	if a.Resolve("f.go") == b.Resolve("f.go") {
		t.Error("resolvers with different roots must not share state")
	}
}
