package policy

import (
	"context"
	"sync/atomic"

	"nexus-wms/internal/service/reservation/domain"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// CELTTLPolicy 用 CEL 表达式计算预占的过期分钟数。表达式可用的变量：
//
//	channel   string      渠道（大写）
//	shop      string
//	warehouse int
//	ref       string
//	items     list(int)   商品 ID
//	total_qty int         所有行的数量之和
//
// 结果必须是整数，<=0 表示永不过期。例如 `channel == "AMAZON" ? 120 : 30`。
type CELTTLPolicy struct {
	env     *cel.Env
	program atomic.Pointer[compiled]
}

type compiled struct {
	expr string
	prg  cel.Program
}

func NewCELTTLPolicy(expr string) (*CELTTLPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("channel", cel.StringType),
		cel.Variable("shop", cel.StringType),
		cel.Variable("warehouse", cel.IntType),
		cel.Variable("ref", cel.StringType),
		cel.Variable("items", cel.ListType(cel.IntType)),
		cel.Variable("total_qty", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	p := &CELTTLPolicy{env: env}
	if err := p.Update(expr); err != nil {
		return nil, err
	}
	return p, nil
}

// Update 编译新表达式并原子替换；编译失败时保留旧表达式
func (p *CELTTLPolicy) Update(expr string) error {
	if cur := p.program.Load(); cur != nil && cur.expr == expr {
		return nil
	}
	ast, iss := p.env.Compile(expr)
	if iss.Err() != nil {
		return errors.Wrapf(iss.Err(), "compile ttl policy %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.IntType) {
		return errors.Errorf("ttl policy %q must evaluate to int, got %s", expr, ast.OutputType())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return errors.Wrapf(err, "build ttl policy %q", expr)
	}
	p.program.Store(&compiled{expr: expr, prg: prg})
	return nil
}

// Expression 返回当前生效的表达式
func (p *CELTTLPolicy) Expression() string {
	return p.program.Load().expr
}

func (p *CELTTLPolicy) TTLMinutes(ctx context.Context, key domain.BusinessKey, lines []domain.Line) (int, error) {
	c := p.program.Load()

	items := make([]int64, 0, len(lines))
	var total int64
	for _, l := range lines {
		items = append(items, l.Item)
		total += l.Qty
	}
	out, _, err := c.prg.ContextEval(ctx, map[string]any{
		"channel":   key.Channel,
		"shop":      key.Shop,
		"warehouse": key.Warehouse,
		"ref":       key.Ref,
		"items":     items,
		"total_qty": total,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "evaluate ttl policy %q", c.expr)
	}
	minutes, ok := out.Value().(int64)
	if !ok {
		return 0, errors.Errorf("ttl policy %q returned %T", c.expr, out.Value())
	}
	return int(minutes), nil
}
