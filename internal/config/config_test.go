package config

import "testing"

func TestParseDefaults(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.BindHost != "localhost" || c.BindPort != 80 || c.UploadEnabled || c.Headless {
		t.Fatalf("c = %+v", c)
	}
}

func TestParseFlags(t *testing.T) {
	c, err := Parse([]string{"-d", "/tmp", "-p", "8080", "-u", "--headless"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.ServeRoot != "/tmp" || c.BindPort != 8080 || !c.UploadEnabled || !c.Headless {
		t.Fatalf("c = %+v", c)
	}
}

func TestParseHostAliasM(t *testing.T) {
	c, err := Parse([]string{"-m", "0.0.0.0"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.BindHost != "0.0.0.0" {
		t.Fatalf("BindHost = %q", c.BindHost)
	}
}

func TestParseBadPort(t *testing.T) {
	_, err := Parse([]string{"-p", "99999"})
	if err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	var badArgs *ErrBadArguments
	if !asErrBadArguments(err, &badArgs) {
		t.Fatalf("expected ErrBadArguments, got %T", err)
	}
}

func asErrBadArguments(err error, target **ErrBadArguments) bool {
	if e, ok := err.(*ErrBadArguments); ok {
		*target = e
		return true
	}
	return false
}
