package cartsync

type opKind int

const (
	opIncrement opKind = iota + 1
	opSet
	opRemove
	opClear
	opRefresh
)

func (k opKind) String() string {
	switch k {
	case opIncrement:
		return "increment"
	case opSet:
		return "set"
	case opRemove:
		return "remove"
	case opClear:
		return "clear"
	case opRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// サーバーへ送る1回分の呼び出し
type op struct {
	kind      opKind
	productID string
	qty       int64 // incrementはdelta、setは数量
	seq       uint64
	gen       uint64
	token     string

	// clearで消した商品
	cleared []string
}

// 影響する商品ID
func (o op) productIDs() []string {
	if o.kind == opClear {
		return o.cleared
	}
	if o.productID == "" {
		return nil
	}
	return []string{o.productID}
}

// 同じ商品の未送信の操作をまとめる。
// inc+inc→inc(合計), *+set→set, *+remove→remove, set+inc→set(q+d), remove+inc→set(d)
func coalesce(prev, next op) op {
	if next.kind != opIncrement {
		return next
	}

	switch prev.kind {
	case opIncrement:
		next.qty += prev.qty
	case opSet:
		next.kind = opSet
		next.qty += prev.qty
	case opRemove:
		next.kind = opSet
	}
	return next
}
