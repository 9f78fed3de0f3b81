package cache

import (
	"testing"
	"time"

	"guardrail/internal/ast"
)

func TestCache_PutThenGetHits(t *testing.T) {
	c := New(time.Minute)
	mod := &ast.ModuleAST{FilePath: "app.py"}
	hash := ContentHash([]byte("print('hi')"))

	c.Put("app.py", hash, mod, nil)

	entry, ok := c.Get("app.py", hash)
	if !ok {
		t.Fatalf("expected a cache hit")
	}
	if entry.ModuleAST != mod {
		t.Fatalf("expected the cached ModuleAST to be the same pointer")
	}
}

func TestCache_MissOnDifferentContentHash(t *testing.T) {
	c := New(time.Minute)
	mod := &ast.ModuleAST{FilePath: "app.py"}
	c.Put("app.py", ContentHash([]byte("version one")), mod, nil)

	_, ok := c.Get("app.py", ContentHash([]byte("version two")))
	if ok {
		t.Fatalf("expected a miss when the file content changed")
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := New(time.Millisecond)
	hash := ContentHash([]byte("print('hi')"))
	c.Put("app.py", hash, &ast.ModuleAST{FilePath: "app.py"}, nil)

	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("app.py", hash)
	if ok {
		t.Fatalf("expected the entry to have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expected the expired entry to be evicted on read, got Len=%d", c.Len())
	}
}

func TestCache_ContentHashIsStable(t *testing.T) {
	a := ContentHash([]byte("identical content"))
	b := ContentHash([]byte("identical content"))
	if a != b {
		t.Fatalf("expected identical content to hash identically")
	}
}

func TestCache_ClearDropsEverything(t *testing.T) {
	c := New(time.Minute)
	c.Put("a.py", ContentHash([]byte("a")), &ast.ModuleAST{FilePath: "a.py"}, nil)
	c.Put("b.py", ContentHash([]byte("b")), &ast.ModuleAST{FilePath: "b.py"}, nil)

	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("expected 0 entries after Clear, got %d", c.Len())
	}
}
