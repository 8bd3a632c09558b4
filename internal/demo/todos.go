package demo

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/vango-dev/livetree/pkg/node"
)

// Todo is one entry of the list.
type Todo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

var (
	todos = node.Global[[]Todo]("todos")
	done  = node.Local[bool]("done")
)

// TodoList renders the todos keyed by id, so each item keeps its own done
// flag across reorders and removals.
type TodoList struct{}

var (
	addTodo = node.NewParamHandler("add", func(l *TodoList, ctx *node.Context, p struct {
		Title string `json:"title" param:"target.value" validate:"required,max=200"`
	}) error {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			return nil
		}
		todos.Update(ctx, func(ts []Todo) []Todo {
			return append(slices.Clone(ts), Todo{ID: uuid.NewString(), Title: title})
		})
		return nil
	})
	reverseTodos = node.NewHandler("reverse", func(l *TodoList, ctx *node.Context) error {
		todos.Update(ctx, func(ts []Todo) []Todo {
			out := slices.Clone(ts)
			slices.Reverse(out)
			return out
		})
		return nil
	})
	todoListHandlers = node.Handlers(addTodo, reverseTodos)
)

func (l *TodoList) Handlers() *node.HandlerTable { return todoListHandlers }

func (l *TodoList) Render(ctx *node.Context) (node.Element, error) {
	items := todos.Get(ctx)
	return node.El("section", []node.Attr{node.A("class", "todos")},
		node.Void("input", node.A("name", "title"), node.A("placeholder", "what needs doing?"), ctx.On("change", addTodo)),
		node.El("button", []node.Attr{ctx.On("click", reverseTodos)}, node.Text("reverse")),
		node.El("ul", nil, node.Map(items, func(t Todo) node.Element {
			return node.Keyed(t.ID, node.Mount(&TodoItem{Todo: t}))
		})),
		node.El("small", nil, node.Textf("%d items", len(items))),
	), nil
}

// TodoItem is one row. Its done flag is instance state.
type TodoItem struct {
	Todo Todo
}

var (
	toggleTodo = node.NewHandler("toggle", func(it *TodoItem, ctx *node.Context) error {
		done.Update(ctx, func(d bool) bool { return !d })
		return nil
	})
	removeTodo = node.NewHandler("remove", func(it *TodoItem, ctx *node.Context) error {
		todos.Update(ctx, func(ts []Todo) []Todo {
			return slices.DeleteFunc(slices.Clone(ts), func(t Todo) bool { return t.ID == it.Todo.ID })
		})
		return nil
	})
	todoItemHandlers = node.Handlers(toggleTodo, removeTodo)
)

func (it *TodoItem) Handlers() *node.HandlerTable { return todoItemHandlers }

func (it *TodoItem) Render(ctx *node.Context) (node.Element, error) {
	class := "todo"
	if done.Get(ctx) {
		class = "todo done"
	}
	return node.El("li", []node.Attr{node.A("class", class), node.A("data-id", it.Todo.ID)},
		node.El("span", []node.Attr{ctx.On("click", toggleTodo)}, node.Text(it.Todo.Title)),
		node.El("button", []node.Attr{ctx.On("click", removeTodo)}, node.Text("x")),
	), nil
}
