// Package category 将投稿分区树展开为候选叶子，并通过大模型在候选中选择分区。
package category

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Node 分区树节点。HasChildren 表示原始数据里 children 是非空数组，
// 即使其中没有可解析的子节点，该节点也不是叶子。
type Node struct {
	ID          int
	Name        string
	Children    []Node
	HasChildren bool
}

// Candidate 可投稿的叶子分区
type Candidate struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// ParseTree 解析 archive/pre 返回的 typelist；非数组时返回 nil
func ParseTree(raw []byte) []Node {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil
	}
	list := gjson.ParseBytes(raw)
	if !list.IsArray() {
		return nil
	}
	return parseNodes(list)
}

func parseNodes(list gjson.Result) []Node {
	var nodes []Node
	for _, item := range list.Array() {
		if !item.IsObject() {
			continue
		}
		node := Node{
			ID:   int(item.Get("id").Int()),
			Name: strings.TrimSpace(item.Get("name").String()),
		}
		if children := item.Get("children"); children.IsArray() && len(children.Array()) > 0 {
			node.HasChildren = true
			node.Children = parseNodes(children)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// Flatten 深度优先展开叶子节点，按 id 去重保留首次出现
func Flatten(nodes []Node) []Candidate {
	var out []Candidate
	seen := make(map[int]struct{})

	var walk func(n Node, parents []string)
	walk = func(n Node, parents []string) {
		path := parents
		if n.Name != "" {
			path = append(append([]string(nil), parents...), n.Name)
		}
		if n.HasChildren || len(n.Children) > 0 {
			for _, child := range n.Children {
				walk(child, path)
			}
			return
		}
		if n.ID <= 0 || n.Name == "" {
			return
		}
		if _, ok := seen[n.ID]; ok {
			return
		}
		seen[n.ID] = struct{}{}
		out = append(out, Candidate{ID: n.ID, Name: n.Name, Path: strings.Join(path, "/")})
	}

	for _, n := range nodes {
		walk(n, nil)
	}
	return out
}

// Contains 判断 id 是否在候选集中
func Contains(candidates []Candidate, id int) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
