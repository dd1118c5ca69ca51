package ui

const themeInitScript = `(function(){
  var root=document.documentElement;
  var media=window.matchMedia('(prefers-color-scheme: dark)');
  function normalize(mode){
    return mode==='light'||mode==='dark'||mode==='auto'?mode:'auto';
  }
  function apply(mode){
    var selected=normalize(mode);
    var resolved=selected==='auto'?(media.matches?'dark':'light'):selected;
    root.setAttribute('data-color-mode',selected);
    root.setAttribute('data-theme',resolved);
  }
  var stored='auto';
  try {
    stored=normalize(localStorage.getItem('statflow-ui-theme')||'auto');
  } catch (_) {}
  apply(stored);
  window.__statflowThemeApply=apply;
})();`

const themeBehaviorScript = `(function(){
  var root=document.documentElement;
  var apply=window.__statflowThemeApply;
  var toggle=document.getElementById('theme-toggle');
  if(!apply||!toggle){ return; }
  toggle.addEventListener('click', function(){
    var next=root.getAttribute('data-theme')==='dark'?'light':'dark';
    apply(next);
    try { localStorage.setItem('statflow-ui-theme', next); } catch (_) {}
  });
})();`
