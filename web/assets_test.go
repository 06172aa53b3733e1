package web

import "testing"

func TestEmbeddedAssetsIncludeChatPage(t *testing.T) {
	b, err := Assets.ReadFile("index.html")
	if err != nil {
		t.Fatalf("embedded asset missing index.html: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("embedded index.html is empty")
	}
}
