package llm

import "testing"

func TestResponseHelpers(t *testing.T) {
	resp := &Response{Blocks: []Block{
		{Type: BlockText, Text: "first"},
		{Type: BlockToolUse, ToolUseID: "t1", ToolName: "list_pages"},
		{Type: BlockText, Text: "  "},
		{Type: BlockToolUse, ToolUseID: "t2", ToolName: "create_plan"},
	}}
	if resp.Text() != "first" {
		t.Fatalf("unexpected text: %q", resp.Text())
	}
	if len(resp.ToolUses()) != 2 {
		t.Fatalf("unexpected tool uses: %+v", resp.ToolUses())
	}
	block, ok := resp.ToolUse("create_plan")
	if !ok || block.ToolUseID != "t2" {
		t.Fatalf("unexpected block: %+v", block)
	}
	if _, ok := resp.ToolUse("missing"); ok {
		t.Fatalf("did not expect a match")
	}
	var nilResp *Response
	if nilResp.Text() != "" || nilResp.ToolUses() != nil {
		t.Fatalf("nil response helpers should be safe")
	}
}
